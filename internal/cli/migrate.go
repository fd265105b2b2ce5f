package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/titlechain/internal/store"
)

type migrateResult struct {
	Dialect string `json:"dialect"`
	Applied int    `json:"applied"`
}

func (r migrateResult) Text() string {
	if r.Applied == 0 {
		return fmt.Sprintf("✓ %s schema is up to date\n", r.Dialect)
	}
	return fmt.Sprintf("✓ applied %d migration(s) to %s\n", r.Applied, r.Dialect)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply pending schema migrations to the configured database.

serve and reconcile migrate on startup; this command does it alone, for
deployments that run migrations as a separate step.

Examples:
  titlechain migrate --dsn titlechain.db
  titlechain migrate --dsn postgres://localhost/titlechain?sslmode=disable`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, "migrate", err)
	}
	st, err := store.Connect(cfg.Database.DSN)
	if err != nil {
		return out.Fail(ExitCommandError, "migrate", err)
	}
	defer st.Close()

	out.VerboseLog("migrating %s database", st.Dialect())
	n, err := st.Migrate()
	if err != nil {
		return out.Fail(ExitCommandError, "migrate", err)
	}
	return out.Success(migrateResult{Dialect: st.Dialect(), Applied: n})
}
