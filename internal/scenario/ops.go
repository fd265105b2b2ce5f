package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/deal"
	"github.com/roach88/titlechain/internal/ledger"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/registry"
	"github.com/roach88/titlechain/internal/transfer"
)

// Ledger fault modes set by the ledger.fault operation.
const (
	FaultNone         = "none"
	FaultDown         = "down"
	FaultLostResponse = "lost_response"
)

// faultLedger sits between the components and the gateway. In "down" mode
// writes fail before reaching any peer; in "lost_response" mode they commit
// and then report a timeout. Reads always pass through.
type faultLedger struct {
	ledger.Client
	mode atomic.Value
}

func (f *faultLedger) current() string {
	if m, ok := f.mode.Load().(string); ok {
		return m
	}
	return FaultNone
}

func (f *faultLedger) write(txID string, call func() error) error {
	switch f.current() {
	case FaultDown:
		return apperr.New(apperr.KindLedgerUnavailable, "scenario.fault", txID, "ledger is down")
	case FaultLostResponse:
		if err := call(); err != nil {
			return err
		}
		return apperr.New(apperr.KindLedgerTimeout, "scenario.fault", txID, "response lost")
	}
	return call()
}

func (f *faultLedger) CreateAsset(ctx context.Context, txID string, facts model.Facts) error {
	return f.write(txID, func() error { return f.Client.CreateAsset(ctx, txID, facts) })
}

func (f *faultLedger) UpdateAsset(ctx context.Context, txID string, facts model.Facts) error {
	return f.write(txID, func() error { return f.Client.UpdateAsset(ctx, txID, facts) })
}

func (f *faultLedger) DeleteAsset(ctx context.Context, txID, uuid string) error {
	return f.write(txID, func() error { return f.Client.DeleteAsset(ctx, txID, uuid) })
}

func (f *faultLedger) TransferAsset(ctx context.Context, txID, uuid, newOwner string) (ledger.TransferResult, error) {
	var res ledger.TransferResult
	err := f.write(txID, func() error {
		var err error
		res, err = f.Client.TransferAsset(ctx, txID, uuid, newOwner)
		return err
	})
	return res, err
}

type operation func(ctx context.Context, e *env, args map[string]any) (any, error)

// operations are the invocable steps, keyed by the name used in scenario
// files.
var operations = map[string]operation{
	"registry.create":   createAsset,
	"registry.update":   updateAsset,
	"registry.delete":   deleteAsset,
	"registry.list":     listAsset,
	"registry.delist":   delistAsset,
	"deal.open":         openDeal,
	"deal.advance":      advanceDeal,
	"deal.accrue":       accrue,
	"deal.messages":     appendMessages,
	"transfer.complete": complete,
	"reconcile.sweep":   sweep,
	"reconcile.dry_run": dryRun,
	"ledger.fault":      setFault,
	"ledger.create":     ledgerCreate,
	"ledger.transfer":   ledgerTransfer,
	"ledger.corrupt":    ledgerCorrupt,
}

// bind decodes step args into v through their JSON form, rejecting unknown
// keys.
func bind(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, "scenario.bind", "", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindInvalid, "scenario.bind", "", err)
	}
	return nil
}

type target struct {
	UUID string `json:"uuid"`
}

func createAsset(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in registry.AssetInput
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.reg.CreateAsset(ctx, in)
}

func updateAsset(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID string `json:"uuid"`
		registry.UpdateInput
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.reg.UpdateAsset(ctx, in.UUID, in.UpdateInput)
}

func deleteAsset(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in target
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return nil, e.reg.DeleteAsset(ctx, in.UUID)
}

func listAsset(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID  string          `json:"uuid"`
		Price decimal.Decimal `json:"price"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.reg.ListAsset(ctx, in.UUID, in.Price)
}

func delistAsset(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in target
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.reg.DelistAsset(ctx, in.UUID)
}

func openDeal(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in deal.OpenInput
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.deals.Open(ctx, in)
}

func advanceDeal(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID     string            `json:"uuid"`
		Stage    model.StageName   `json:"stage"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.deals.Advance(ctx, in.UUID, in.Stage, in.Metadata)
}

func accrue(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID   string          `json:"uuid"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.deals.Accrue(ctx, in.UUID, in.Amount)
}

func appendMessages(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID     string              `json:"uuid"`
		Messages []deal.MessageInput `json:"messages"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	n, err := e.deals.AppendMessages(ctx, in.UUID, in.Messages...)
	return map[string]int{"added": n}, err
}

func complete(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID     string            `json:"uuid"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.coord.Complete(ctx, in.UUID, in.Metadata)
}

// summarize reduces a report to counts per action kind, which is what
// scenarios assert on.
func summarize(rep transfer.Report) map[string]any {
	actions := map[string]int{}
	for _, a := range rep.Actions {
		actions[a.Kind]++
	}
	return map[string]any{
		"actions":     actions,
		"divergences": len(rep.Divergences),
		"failed":      rep.Failed(),
	}
}

func sweep(ctx context.Context, e *env, _ map[string]any) (any, error) {
	rep, err := e.recon.Sweep(ctx)
	return summarize(rep), err
}

func dryRun(ctx context.Context, e *env, _ map[string]any) (any, error) {
	rep, err := e.recon.DryRun(ctx)
	return summarize(rep), err
}

func setFault(_ context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		Mode string `json:"mode"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	switch in.Mode {
	case FaultNone, FaultDown, FaultLostResponse:
		e.faults.mode.Store(in.Mode)
		return nil, nil
	}
	return nil, apperr.New(apperr.KindInvalid, "scenario.setFault", in.Mode, "unknown fault mode")
}

// ledgerCreate writes a record straight to the ledger, bypassing the
// registry, as another client of the network would.
func ledgerCreate(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID         string `json:"uuid"`
		Type         string `json:"type"`
		OwnerUUID    string `json:"ownerUUID"`
		ParcelNumber string `json:"parcelNumber"`
		PlotNumber   string `json:"plotNumber"`
		TitleNumber  string `json:"titleNumber"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	f := model.Facts{
		UUID:         in.UUID,
		Type:         in.Type,
		OwnerUUID:    in.OwnerUUID,
		ParcelNumber: in.ParcelNumber,
		PlotNumber:   in.PlotNumber,
		TitleNumber:  in.TitleNumber,
	}
	return nil, e.gateway.CreateAsset(ctx, "external:"+in.UUID, f)
}

// ledgerTransfer moves a ledger record to a new owner behind the
// registry's back.
func ledgerTransfer(ctx context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID  string `json:"uuid"`
		Owner string `json:"owner"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return e.gateway.TransferAsset(ctx, "external:"+in.UUID+":"+in.Owner, in.UUID, in.Owner)
}

// ledgerCorrupt overwrites a value on every peer with bytes that are not a
// canonical record.
func ledgerCorrupt(_ context.Context, e *env, args map[string]any) (any, error) {
	var in struct {
		UUID  string `json:"uuid"`
		Value string `json:"value"`
	}
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	for _, p := range e.gateway.Peers() {
		if err := p.PutRaw(in.UUID, []byte(in.Value)); err != nil {
			return nil, fmt.Errorf("corrupt %s: %w", in.UUID, err)
		}
	}
	return nil, nil
}
