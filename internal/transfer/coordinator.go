// Package transfer moves ownership when a deal completes and keeps the
// relational store and the ledger in agreement afterwards.
//
// Completion writes the relational side first, in one transaction that
// changes the owner and records a transfer intent keyed by the deal UUID.
// The ledger transfer then runs with the deal UUID as its transaction ID, so
// a retry after a crash or a lost response is recognized by the ledger and
// never applied twice. Intents left pending are finished by the Reconciler.
package transfer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/clock"
	"github.com/roach88/titlechain/internal/deal"
	"github.com/roach88/titlechain/internal/ledger"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/store"
)

// Coordinator is the TransferCoordinator.
type Coordinator struct {
	store  *store.Store
	deals  *deal.Workflow
	ledger ledger.Client
	clock  clock.Clock
	log    zerolog.Logger
}

// Option configures a Coordinator or a Reconciler.
type Option func(*options)

type options struct {
	clock clock.Clock
	log   zerolog.Logger
}

// WithClock replaces the wall clock used for intent timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.System{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(s *store.Store, deals *deal.Workflow, lc ledger.Client, opts ...Option) *Coordinator {
	o := buildOptions(opts)
	return &Coordinator{store: s, deals: deals, ledger: lc, clock: o.clock, log: o.log}
}

// Outcome describes a completed (or resumed) transfer.
type Outcome struct {
	Deal          model.Deal     `json:"deal"`
	Transfer      model.Transfer `json:"transfer"`
	PreviousOwner string         `json:"previousOwner"`
	Replayed      bool           `json:"replayed"`
}

// Complete ends the deal with COMPLETED and moves the asset to the buyer in
// both stores. It may be called again after any failure; each step detects
// that it already ran. The sale only goes through while the asset is listed
// and still belongs to the seller recorded when the deal opened; otherwise
// it fails with InvalidTransition. A ledger failure leaves the intent
// pending and is returned as LedgerUnavailable or LedgerTimeout.
func (c *Coordinator) Complete(ctx context.Context, dealUUID string, metadata map[string]string) (Outcome, error) {
	d, err := c.settle(ctx, dealUUID, metadata)
	if err != nil {
		return Outcome{}, err
	}
	return c.resume(ctx, d)
}

// settle appends COMPLETED, moves the registry owner, records the intent and
// cancels the asset's other open deals in one store transaction. A deal that
// already has COMPLETED is returned as is.
func (c *Coordinator) settle(ctx context.Context, dealUUID string, metadata map[string]string) (model.Deal, error) {
	var out model.Deal
	err := store.RetryOnConflict(ctx, store.DefaultRetries, func() error {
		d, err := c.deals.Get(ctx, dealUUID)
		if err != nil {
			return err
		}
		if d.HasStage(model.StageCompleted) {
			out = d
			return nil
		}
		if d.HasStage(model.StageCancelled) {
			return apperr.New(apperr.KindInvalidTransition, "transfer.Complete", dealUUID, "deal is cancelled")
		}
		if err := deal.CheckAdvance(d, model.StageCompleted); err != nil {
			return err
		}

		a, err := c.store.GetAsset(ctx, d.AssetUUID)
		if err != nil {
			return err
		}
		t, err := c.saleTransfer(d, a)
		if err != nil {
			return err
		}
		st := model.Stage{
			Seq:      len(d.Stages) + 1,
			Name:     model.StageCompleted,
			Date:     t.CreatedAt,
			Metadata: metadata,
		}
		v, cancelled, err := c.store.CompleteSale(ctx, d.Version, st, t)
		if err != nil {
			return err
		}

		d.Stages = append(d.Stages, st)
		d.Version = v
		out = d
		c.log.Info().Str("deal", d.UUID).Str("asset", a.UUID).
			Str("from", t.From.UUID).Str("to", t.To.UUID).Strs("cancelled", cancelled).Msg("registry owner changed")
		return nil
	})
	return out, err
}

// saleTransfer builds the intent for completing d against the asset's
// current record, or explains why the sale no longer stands.
func (c *Coordinator) saleTransfer(d model.Deal, a model.Asset) (model.Transfer, error) {
	const op = "transfer.Complete"

	now := c.clock.Now()
	t := model.Transfer{
		DealUUID:  d.UUID,
		AssetUUID: a.UUID,
		From:      sellerOf(d, a),
		To:        d.Buyer,
		Status:    model.TransferRegistryApplied,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch {
	case a.Owner.UUID == d.Buyer.UUID:
		// Adopted from the ledger already; only the stage and intent are
		// missing.
	case a.Owner.UUID != t.From.UUID:
		return model.Transfer{}, apperr.New(apperr.KindInvalidTransition, op, d.UUID,
			"asset %s belongs to %s, not to the seller %s", a.UUID, a.Owner.UUID, t.From.UUID)
	case !a.IsListed:
		return model.Transfer{}, apperr.New(apperr.KindInvalidTransition, op, d.UUID, "asset %s is no longer listed", a.UUID)
	}
	return t, nil
}

// sellerOf returns the seller recorded on d. Deals opened before sellers
// were recorded fall back to the asset's current owner.
func sellerOf(d model.Deal, a model.Asset) model.Party {
	if d.Seller.UUID != "" {
		return d.Seller
	}
	return a.Owner
}

// resume runs the registry and ledger steps for a completed deal.
func (c *Coordinator) resume(ctx context.Context, d model.Deal) (Outcome, error) {
	t, err := c.applyRegistry(ctx, d)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Deal: d, Transfer: t, PreviousOwner: t.From.UUID}
	if t.Status == model.TransferLedgerCommitted {
		out.Replayed = true
		return out, nil
	}

	res, err := c.commitLedger(ctx, t)
	if err != nil {
		return out, err
	}
	out.Transfer, err = c.store.GetTransfer(ctx, d.UUID)
	if err != nil {
		return out, err
	}
	out.Replayed = res.Replayed
	return out, nil
}

// applyRegistry returns the intent recorded for a completed deal. A deal that
// reached COMPLETED through a bare stage append has none; its owner change
// is applied here as a compare-and-set on the seller.
func (c *Coordinator) applyRegistry(ctx context.Context, d model.Deal) (model.Transfer, error) {
	if t, err := c.store.GetTransfer(ctx, d.UUID); err == nil {
		return t, nil
	} else if !apperr.IsNotFound(err) {
		return model.Transfer{}, err
	}

	a, err := c.store.GetAsset(ctx, d.AssetUUID)
	if err != nil {
		return model.Transfer{}, err
	}
	now := c.clock.Now()
	t := model.Transfer{
		DealUUID:  d.UUID,
		AssetUUID: a.UUID,
		From:      sellerOf(d, a),
		To:        d.Buyer,
		Status:    model.TransferRegistryApplied,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if a.Owner.UUID == d.Buyer.UUID {
		// The registry already shows the buyer (adopted from the ledger);
		// only the intent is missing.
		if d.Seller.UUID == "" {
			if n := len(a.PastOwners); n > 0 {
				t.From = a.PastOwners[n-1]
			}
		}
		if _, err := c.store.RecordTransfer(ctx, t); err != nil {
			return model.Transfer{}, err
		}
		return c.store.GetTransfer(ctx, d.UUID)
	}

	t, applied, err := c.store.ApplyTransfer(ctx, t)
	if err != nil {
		return model.Transfer{}, err
	}
	if applied {
		c.log.Info().Str("deal", d.UUID).Str("asset", a.UUID).
			Str("from", t.From.UUID).Str("to", t.To.UUID).Msg("registry owner changed")
	}
	return t, nil
}

// commitLedger submits the ledger transfer for a pending intent and records
// the result on the intent.
func (c *Coordinator) commitLedger(ctx context.Context, t model.Transfer) (ledger.TransferResult, error) {
	res, err := c.ledger.TransferAsset(ctx, t.DealUUID, t.AssetUUID, t.To.UUID)
	if err != nil {
		if recErr := c.store.RecordTransferAttempt(context.WithoutCancel(ctx), t.DealUUID, errorCode(err), c.clock.Now()); recErr != nil {
			c.log.Error().Err(recErr).Str("deal", t.DealUUID).Msg("recording transfer attempt failed")
		}
		c.log.Warn().Err(err).Str("deal", t.DealUUID).Msg("ledger transfer failed; intent stays pending")
		return ledger.TransferResult{}, err
	}
	if err := c.store.MarkTransferCommitted(context.WithoutCancel(ctx), t.DealUUID, c.clock.Now()); err != nil {
		return res, err
	}
	c.log.Info().Str("deal", t.DealUUID).Str("asset", t.AssetUUID).
		Bool("replayed", res.Replayed).Uint64("height", res.Height).Msg("ledger transfer committed")
	return res, nil
}

func errorCode(err error) string {
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return err.Error()
}
