package cli

import (
	"errors"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/roach88/titlechain/internal/citizen"
	"github.com/roach88/titlechain/internal/config"
	"github.com/roach88/titlechain/internal/deal"
	"github.com/roach88/titlechain/internal/ledger"
	"github.com/roach88/titlechain/internal/observability"
	"github.com/roach88/titlechain/internal/registry"
	"github.com/roach88/titlechain/internal/store"
	"github.com/roach88/titlechain/internal/transfer"
)

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.DSN != "" {
		cfg.Database.DSN = o.DSN
	}
	if o.Ledger != "" {
		cfg.Ledger.Dir = o.Ledger
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// app is the wired service: both stores and every component over them.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	store   *store.Store
	gateway *ledger.Gateway

	citizens *citizen.Directory
	assets   *registry.Registry
	deals    *deal.Workflow
	coord    *transfer.Coordinator
	recon    *transfer.Reconciler
}

// newApp opens the relational store (migrating it) and the ledger peers.
// Logs go to logOut.
func newApp(cfg config.Config, logOut io.Writer) (*app, error) {
	log, err := observability.NewLogger(observability.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: logOut,
		App:    "titlechain",
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure logging", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(promReg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	gw, err := ledger.Open(ledger.Options{
		Dir:           cfg.Ledger.Dir,
		Peers:         cfg.Ledger.Peers,
		SubmitTimeout: cfg.Ledger.SubmitTimeout,
		ReceiptCache:  cfg.Ledger.ReceiptCache,
		Logger:        observability.Component(log, "ledger"),
		Metrics:       metrics,
	})
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "open ledger", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: promReg,
		metrics:  metrics,
		store:    st,
		gateway:  gw,
	}
	a.citizens = citizen.New(st, citizen.WithLogger(observability.Component(log, "citizen")))
	regOpts := []registry.Option{registry.WithLogger(observability.Component(log, "registry"))}
	dealOpts := []deal.Option{deal.WithLogger(observability.Component(log, "deal"))}
	if cfg.Citizens.Enforce {
		regOpts = append(regOpts, registry.WithCitizens(a.citizens))
		dealOpts = append(dealOpts, deal.WithCitizens(a.citizens))
	}
	a.assets = registry.New(st, gw, regOpts...)
	a.deals = deal.New(st, dealOpts...)
	a.coord = transfer.NewCoordinator(st, a.deals, gw,
		transfer.WithLogger(observability.Component(log, "transfer")))
	a.recon = transfer.NewReconciler(st, gw, a.assets, a.coord, metrics,
		transfer.WithLogger(observability.Component(log, "reconcile")))
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.gateway.Close(), a.store.Close())
}
