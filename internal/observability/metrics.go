package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds titlechain's collectors. A nil *Metrics records nothing, so
// components and tests can run without a registry.
type Metrics struct {
	ledgerSubmissions *prometheus.CounterVec
	ledgerDuration    *prometheus.HistogramVec
	reconcileRuns     prometheus.Counter
	reconcileActions  *prometheus.CounterVec
	divergences       prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ledgerSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "titlechain",
				Subsystem: "ledger",
				Name:      "submissions_total",
				Help:      "Ledger transaction submissions by function and outcome.",
			},
			[]string{"fn", "outcome"},
		),
		ledgerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "titlechain",
				Subsystem: "ledger",
				Name:      "submit_seconds",
				Help:      "Ledger submission latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"fn"},
		),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "titlechain",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation sweeps started.",
		}),
		reconcileActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "titlechain",
				Subsystem: "reconcile",
				Name:      "actions_total",
				Help:      "Repairs performed by reconciliation, by action.",
			},
			[]string{"action"},
		),
		divergences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "titlechain",
			Name:      "divergences_total",
			Help:      "Ownership divergences detected between registry and ledger.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "titlechain",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "titlechain",
				Subsystem: "http",
				Name:      "request_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.ledgerSubmissions, m.ledgerDuration, m.reconcileRuns,
		m.reconcileActions, m.divergences, m.httpRequests, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LedgerSubmission records one gateway submission.
func (m *Metrics) LedgerSubmission(fn, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ledgerSubmissions.WithLabelValues(fn, outcome).Inc()
	m.ledgerDuration.WithLabelValues(fn).Observe(d.Seconds())
}

// ReconcileRun counts a sweep.
func (m *Metrics) ReconcileRun() {
	if m == nil {
		return
	}
	m.reconcileRuns.Inc()
}

// ReconcileAction counts a repair.
func (m *Metrics) ReconcileAction(action string) {
	if m == nil {
		return
	}
	m.reconcileActions.WithLabelValues(action).Inc()
}

// Divergence counts a detected ownership disagreement.
func (m *Metrics) Divergence() {
	if m == nil {
		return
	}
	m.divergences.Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
