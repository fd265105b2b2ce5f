package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/titlechain/internal/transfer"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	DryRun bool
	Strict bool // exit 1 when divergences remain
}

// reconcileResult is a sweep report with a text rendering.
type reconcileResult struct {
	transfer.Report
}

func (r reconcileResult) Text() string {
	var b strings.Builder
	mode := "sweep"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(&b, "Reconcile %s: %d action(s), %d failed, %d divergence(s) in %s\n",
		mode, len(r.Actions), r.Failed(), len(r.Divergences), r.Duration)

	counts := make(map[string]int)
	for _, a := range r.Actions {
		counts[a.Kind]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  %-20s %d\n", k, counts[k])
	}
	for _, a := range r.Actions {
		if a.Error != "" {
			fmt.Fprintf(&b, "  ✗ %s %s: %s\n", a.Kind, a.Key, a.Error)
		}
	}
	for _, d := range r.Divergences {
		fmt.Fprintf(&b, "  ! %s registry=%s ledger=%s\n", d.AssetUUID, d.RegistryOwner, d.LedgerOwner)
	}
	return b.String()
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep",
		Long: `Run one reconciliation sweep between the registry and the ledger.

With --dry-run the sweep only reports the repairs it would make.

Exit codes:
  0 - Sweep finished (no failed repairs)
  1 - A repair failed, or divergences remain with --strict
  2 - Command error (config, database, ledger)

Examples:
  titlechain reconcile
  titlechain reconcile --dry-run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report repairs without applying them")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when divergences are found")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, "reconcile", err)
	}
	a, err := newApp(cfg, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(ExitCommandError, "reconcile", err)
	}
	defer a.Close()

	sweep := a.recon.Sweep
	if opts.DryRun {
		sweep = a.recon.DryRun
	}
	rep, err := sweep(cmd.Context())
	if err != nil {
		return out.Fail(ExitCommandError, "reconcile", err)
	}

	if err := out.Success(reconcileResult{rep}); err != nil {
		return err
	}
	if n := rep.Failed(); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d repair(s) failed", n))
	}
	if opts.Strict && len(rep.Divergences) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d divergence(s) found", len(rep.Divergences)))
	}
	return nil
}
