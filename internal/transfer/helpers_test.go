package transfer

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/deal"
	"github.com/roach88/titlechain/internal/ids"
	"github.com/roach88/titlechain/internal/ledger"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/observability"
	"github.com/roach88/titlechain/internal/registry"
	"github.com/roach88/titlechain/internal/store"
	"github.com/roach88/titlechain/internal/testutil"
)

// fault selects how faultyLedger misbehaves on TransferAsset.
type fault int

const (
	faultNone fault = iota
	// faultBeforeSubmit fails without reaching the ledger, as if the
	// process died between the registry write and the ledger call.
	faultBeforeSubmit
	// faultLostResponse commits on the ledger, then reports a timeout.
	faultLostResponse
)

type faultyLedger struct {
	ledger.Client
	mode  atomic.Int32
	calls atomic.Int32
}

func (f *faultyLedger) set(m fault) { f.mode.Store(int32(m)) }

func (f *faultyLedger) TransferAsset(ctx context.Context, txID, uuid, newOwner string) (ledger.TransferResult, error) {
	f.calls.Add(1)
	switch fault(f.mode.Load()) {
	case faultBeforeSubmit:
		return ledger.TransferResult{}, apperr.New(apperr.KindLedgerUnavailable, "test", txID, "connection reset")
	case faultLostResponse:
		if _, err := f.Client.TransferAsset(ctx, txID, uuid, newOwner); err != nil {
			return ledger.TransferResult{}, err
		}
		return ledger.TransferResult{}, apperr.New(apperr.KindLedgerTimeout, "test", txID, "response lost")
	}
	return f.Client.TransferAsset(ctx, txID, uuid, newOwner)
}

type env struct {
	store   *store.Store
	gateway *ledger.Gateway
	faulty  *faultyLedger
	reg     *registry.Registry
	deals   *deal.Workflow
	coord   *Coordinator
	recon   *Reconciler
	prom    *prometheus.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "transfer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g, err := ledger.Open(ledger.Options{Peers: 3, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	prom := prometheus.NewRegistry()
	m, err := observability.NewMetrics(prom)
	require.NoError(t, err)

	clk := testutil.NewStepClock(testutil.Epoch, 0)
	faulty := &faultyLedger{Client: g}
	reg := registry.New(s, faulty,
		registry.WithIDs(ids.NewFixed("a-1", "a-2", "a-3")),
		registry.WithClock(clk),
	)
	deals := deal.New(s,
		deal.WithIDs(ids.NewFixed("d-1", "d-2", "d-3")),
		deal.WithClock(clk),
	)
	coord := NewCoordinator(s, deals, faulty, WithClock(clk))
	recon := NewReconciler(s, faulty, reg, coord, m, WithClock(clk))

	return &env{store: s, gateway: g, faulty: faulty, reg: reg, deals: deals, coord: coord, recon: recon, prom: prom}
}

// listedAssetWithDeal registers a-1 for o-1, lists it and opens d-1 for o-2.
func (e *env) listedAssetWithDeal(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.reg.CreateAsset(ctx, registry.AssetInput{
		Type:         model.AssetLand,
		Owner:        model.Party{UUID: "o-1", FullName: "Owner One"},
		Location:     model.Location{LocationName: "Bagamoyo"},
		Dimensions:   model.Dimensions{Value: decimal.NewFromInt(2000)},
		Valuation:    decimal.NewFromInt(45000000),
		ParcelNumber: "P-1",
		PlotNumber:   "PL-1",
		TitleNumber:  "T-1",
	})
	require.NoError(t, err)
	_, err = e.reg.ListAsset(ctx, "a-1", decimal.NewFromInt(50000000))
	require.NoError(t, err)
	_, err = e.deals.Open(ctx, deal.OpenInput{
		AssetUUID:     "a-1",
		Buyer:         model.Party{UUID: "o-2", FullName: "Buyer Two"},
		ProposedPrice: decimal.NewFromInt(48000000),
		PaymentType:   "bank transfer",
	})
	require.NoError(t, err)
}

func (e *env) ledgerOwner(t *testing.T, uuid string) string {
	t.Helper()
	data, err := e.gateway.ReadAsset(context.Background(), uuid)
	require.NoError(t, err)
	f, err := ledger.DecodeFacts(data)
	require.NoError(t, err)
	return f.OwnerUUID
}

func (e *env) height(t *testing.T) uint64 {
	t.Helper()
	h, err := e.gateway.Height()
	require.NoError(t, err)
	return h
}

func (e *env) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := e.prom.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
