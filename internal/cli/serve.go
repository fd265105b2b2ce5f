package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/titlechain/internal/api"
	"github.com/roach88/titlechain/internal/observability"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string // overrides http.addr
	NoReconcile bool   // skip the background sweep
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API over the configured database and ledger peers.

Unless --no-reconcile is set, a reconciliation sweep runs at startup
(when reconcile.on_startup is true) and then every reconcile.interval.
SIGINT or SIGTERM drains in-flight requests for up to
http.shutdown_timeout before exiting.

Examples:
  titlechain serve --config titlechain.yaml
  titlechain serve --dsn postgres://localhost/titlechain --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides http.addr")
	cmd.Flags().BoolVar(&opts.NoReconcile, "no-reconcile", false, "disable the background reconciliation sweep")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	a, err := newApp(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.log.Error().Err(err).Msg("close")
		}
	}()

	srv := api.NewServer(api.Deps{
		Registry:    a.assets,
		Deals:       a.deals,
		Coordinator: a.coord,
		Citizens:    a.citizens,
		Reconciler:  a.recon,
		Ledger:      a.gateway,
		Metrics:     a.metrics,
		Gatherer:    a.registry,
		Logger:      observability.Component(a.log, "api"),
	})
	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: srv.Routes(),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if !opts.NoReconcile {
		go a.recon.Run(sweepCtx, cfg.Reconcile.Interval, cfg.Reconcile.OnStartup)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", cfg.HTTP.Addr).Str("dialect", a.store.Dialect()).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("listen on %s", cfg.HTTP.Addr), err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	return nil
}
