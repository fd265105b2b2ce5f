package scenario

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/titlechain/internal/canon"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/store"
)

// snapshot captures the end state of both stores in canonical JSON:
//
//	{"height":..,"ledger":[..],"registry":[..],"scenario":..,"trace":[..],"transfers":[..]}
//
// Registry entries keep only what ownership tracking touches, so unrelated
// timestamp or profile fields never churn golden files.
func snapshot(ctx context.Context, e *env, name string, trace []TraceStep) ([]byte, error) {
	height, err := e.gateway.Height()
	if err != nil {
		return nil, err
	}
	raw, err := e.gateway.GetAllAssets(ctx)
	if err != nil {
		return nil, err
	}
	records, err := canon.Parse(raw)
	if err != nil {
		return nil, err
	}

	assets, err := e.store.ListAssets(ctx, store.AssetFilter{})
	if err != nil {
		return nil, err
	}
	registry := canon.Array{}
	for _, a := range assets {
		past := canon.Array{}
		for _, p := range a.PastOwners {
			past = append(past, canon.String(p.UUID))
		}
		registry = append(registry, canon.Object{
			"uuid":         canon.String(a.UUID),
			"owner":        canon.String(a.Owner.UUID),
			"pastOwners":   past,
			"ledgerSynced": canon.Bool(a.LedgerSynced),
		})
	}

	transfers := canon.Array{}
	for _, status := range []model.TransferStatus{model.TransferRegistryApplied, model.TransferLedgerCommitted} {
		ts, err := e.store.ListTransfers(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, t := range ts {
			transfers = append(transfers, canon.Object{
				"deal":   canon.String(t.DealUUID),
				"status": canon.String(string(t.Status)),
			})
		}
	}

	steps := canon.Array{}
	for _, st := range trace {
		steps = append(steps, canon.String(st.Invoke+" "+st.Case))
	}

	return canon.Marshal(canon.Object{
		"scenario":  canon.String(name),
		"height":    canon.Int(int64(height)),
		"ledger":    records,
		"registry":  registry,
		"transfers": transfers,
		"trace":     steps,
	})
}

// RunWithGolden runs s, fails t on any scenario error and compares the
// snapshot with testdata/golden/<name>.golden. Regenerate with
//
//	go test ./internal/scenario -update
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	res, err := Run(context.Background(), s)
	if err != nil {
		t.Fatalf("run %s: %v", s.Name, err)
	}
	for _, msg := range res.Errors {
		t.Errorf("%s: %s", s.Name, msg)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, res.Snapshot)
	return res
}
