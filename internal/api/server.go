// Package api exposes the registry, the deal workflow and the ledger over
// HTTP. Every JSON response uses the Envelope shape; errors map from their
// apperr kind to a status code.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/roach88/titlechain/internal/citizen"
	"github.com/roach88/titlechain/internal/deal"
	"github.com/roach88/titlechain/internal/ledger"
	"github.com/roach88/titlechain/internal/observability"
	"github.com/roach88/titlechain/internal/registry"
	"github.com/roach88/titlechain/internal/transfer"
)

// Ledger is the read side of the ledger the API serves.
type Ledger interface {
	ReadAsset(ctx context.Context, uuid string) ([]byte, error)
	GetAllAssets(ctx context.Context) ([]byte, error)
	Subscribe(buffer int) (<-chan ledger.Event, func())
}

// Reconciler runs sweeps on demand.
type Reconciler interface {
	Sweep(ctx context.Context) (transfer.Report, error)
	DryRun(ctx context.Context) (transfer.Report, error)
}

// Deps are the components behind the routes.
type Deps struct {
	Registry    *registry.Registry
	Deals       *deal.Workflow
	Coordinator *transfer.Coordinator
	Citizens    *citizen.Directory // /citizens is served when set
	Reconciler  Reconciler
	Ledger      Ledger
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer // served at /metrics when set
	Logger      zerolog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	reg      *registry.Registry
	deals    *deal.Workflow
	coord    *transfer.Coordinator
	citizens *citizen.Directory
	recon    Reconciler
	ledger   Ledger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	return &Server{
		reg:      d.Registry,
		deals:    d.Deals,
		coord:    d.Coordinator,
		citizens: d.Citizens,
		recon:    d.Reconciler,
		ledger:   d.Ledger,
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
		log:      d.Logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetrics(s.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ok(w, http.StatusOK, map[string]string{"state": "serving"})
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	if s.citizens != nil {
		r.Route("/citizens", func(r chi.Router) {
			r.Post("/", s.registerCitizen)
			r.Get("/", s.listCitizens)
			r.Get("/{uuid}", s.getCitizen)
		})
	}

	r.Route("/assets", func(r chi.Router) {
		r.Post("/", s.createAsset)
		r.Get("/", s.listAssets)
		r.Route("/{uuid}", func(r chi.Router) {
			r.Get("/", s.getAsset)
			r.Put("/", s.updateAsset)
			r.Delete("/", s.deleteAsset)
			r.Post("/listing", s.listAsset)
			r.Delete("/listing", s.delistAsset)
		})
	})
	r.Get("/owners/{ownerUUID}/assets", s.assetsByOwner)
	r.Get("/marketplace", s.marketplace)

	r.Route("/deals", func(r chi.Router) {
		r.Post("/", s.openDeal)
		r.Get("/", s.listDeals)
		r.Route("/{uuid}", func(r chi.Router) {
			r.Get("/", s.getDeal)
			r.Post("/stages", s.advanceDeal)
			r.Post("/payments", s.accrue)
			r.Post("/messages", s.appendMessages)
			r.Post("/documents", s.attachDocument)
			r.Put("/contracts/{kind}", s.setContract)
		})
	})

	r.Route("/ledger", func(r chi.Router) {
		r.Get("/assets", s.ledgerAssets)
		r.Get("/assets/{uuid}", s.ledgerAsset)
		r.Get("/events", s.ledgerEvents)
	})

	r.Post("/admin/reconcile", s.reconcile)
	return r
}
