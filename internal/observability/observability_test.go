package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(LogOptions{Level: "warn", Format: "json", Writer: &buf, App: "titlechain"})
	require.NoError(t, err)

	ledgerLog := Component(log, "ledger")
	ledgerLog.Info().Msg("hidden")
	ledgerLog.Warn().Str("tx", "t-1").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "ledger", entry["component"])
	assert.Equal(t, "titlechain", entry["app"])
	assert.Equal(t, "t-1", entry["tx"])
}

func TestNewLogger_RejectsBadOptions(t *testing.T) {
	_, err := NewLogger(LogOptions{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(LogOptions{Format: "xml"})
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LedgerSubmission("CreateAsset", "ok", time.Millisecond)
		m.ReconcileRun()
		m.ReconcileAction("mirror_create")
		m.Divergence()
		m.HTTPRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.LedgerSubmission("TransferAsset", "ok", time.Millisecond)
	m.LedgerSubmission("TransferAsset", "ok", time.Millisecond)
	m.ReconcileAction("forward_apply")
	m.Divergence()

	assert.Equal(t, 2.0, promtest.ToFloat64(m.ledgerSubmissions.WithLabelValues("TransferAsset", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.reconcileActions.WithLabelValues("forward_apply")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.divergences))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "second registration on the same registry must fail")
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	var buf bytes.Buffer
	log, err := NewLogger(LogOptions{Format: "json", Writer: &buf})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(RequestLogger(log), RequestMetrics(m))
	r.Get("/assets/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.httpRequests.WithLabelValues("GET", "/assets/{uuid}", "404")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "/assets/{uuid}", entry["route"])
}
