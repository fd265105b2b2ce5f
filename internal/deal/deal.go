// Package deal implements the negotiation workflow over one listed asset.
//
// A deal's stage log starts with a single OFFER and grows by appends only.
// Every mutation that depends on the current log or paid amount is a
// compare-and-set on the deal's version, retried a bounded number of times
// when another writer wins, so concurrent calls on one deal linearize.
//
// Completing a deal moves ownership and is handled by the transfer
// coordinator, which uses Advance for its first step.
package deal

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/clock"
	"github.com/roach88/titlechain/internal/ids"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/store"
)

// Resolver turns a party named in a request into the registered profile.
type Resolver interface {
	Resolve(ctx context.Context, p model.Party) (model.Party, error)
}

// Workflow is the DealWorkflow.
type Workflow struct {
	store    *store.Store
	citizens Resolver
	ids      ids.Generator
	clock    clock.Clock
	log      zerolog.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithIDs replaces the UUIDv7 generator.
func WithIDs(g ids.Generator) Option {
	return func(w *Workflow) { w.ids = g }
}

// WithClock replaces the wall clock used for stage and message timestamps.
func WithClock(c clock.Clock) Option {
	return func(w *Workflow) { w.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Workflow) { w.log = l }
}

// WithCitizens makes Open resolve the buyer against a directory. Without it
// the buyer profile is stored as given.
func WithCitizens(c Resolver) Option {
	return func(w *Workflow) { w.citizens = c }
}

// New creates a Workflow.
func New(s *store.Store, opts ...Option) *Workflow {
	w := &Workflow{
		store: s,
		ids:   ids.UUIDv7{},
		clock: clock.System{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OpenInput books an asset.
type OpenInput struct {
	AssetUUID     string          `json:"assetUUID" validate:"required"`
	Buyer         model.Party     `json:"buyer" validate:"required"`
	ProposedPrice decimal.Decimal `json:"proposedPrice"`
	PaymentType   string          `json:"paymentType"`
}

// MessageInput is one chat line. ID and CreatedAt are assigned when empty;
// a client-chosen ID makes resending the same batch harmless.
type MessageInput struct {
	ID        string      `json:"id"`
	Text      string      `json:"text" validate:"required"`
	Sender    model.Party `json:"user" validate:"required"`
	CreatedAt string      `json:"createdAt" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Open creates a deal on a listed asset with a single OFFER stage. The
// asset's owner at this moment is recorded as the seller; the sale can only
// complete while the asset still belongs to them.
func (w *Workflow) Open(ctx context.Context, in OpenInput) (model.Deal, error) {
	const op = "deal.Open"

	if err := model.Validate(in); err != nil {
		return model.Deal{}, err
	}
	if !in.ProposedPrice.IsPositive() {
		return model.Deal{}, apperr.New(apperr.KindInvalid, op, in.AssetUUID, "proposed price must be positive")
	}

	a, err := w.store.GetAsset(ctx, in.AssetUUID)
	if err != nil {
		return model.Deal{}, err
	}
	if !a.IsListed {
		return model.Deal{}, apperr.New(apperr.KindInvalidTransition, op, a.UUID, "asset is not listed")
	}
	if a.Owner.UUID == in.Buyer.UUID {
		return model.Deal{}, apperr.New(apperr.KindInvalid, op, a.UUID, "buyer already owns the asset")
	}
	buyer := in.Buyer
	if w.citizens != nil {
		if buyer, err = w.citizens.Resolve(ctx, in.Buyer); err != nil {
			return model.Deal{}, err
		}
	}

	now := w.clock.Now()
	d := model.Deal{
		UUID:          w.ids.New(),
		AssetUUID:     a.UUID,
		Buyer:         buyer,
		Seller:        a.Owner,
		ProposedPrice: in.ProposedPrice,
		PaymentType:   in.PaymentType,
		PaidAmount:    decimal.Zero,
		Stages: []model.Stage{{
			Seq:  1,
			Name: model.StageOffer,
			Date: now,
			Metadata: map[string]string{
				"proposedPrice": in.ProposedPrice.String(),
				"paymentType":   in.PaymentType,
			},
		}},
		Messages:  []model.Message{},
		Documents: []model.Document{},
		CreatedAt: now,
		Version:   1,
	}
	if err := w.store.InsertDeal(ctx, d); err != nil {
		return model.Deal{}, err
	}

	w.log.Info().Str("deal", d.UUID).Str("asset", a.UUID).Str("buyer", in.Buyer.UUID).Msg("deal opened")
	return d, nil
}

// Advance appends stage to the deal's log with a server-assigned timestamp.
func (w *Workflow) Advance(ctx context.Context, dealUUID string, stage model.StageName, metadata map[string]string) (model.Deal, error) {
	var out model.Deal
	err := store.RetryOnConflict(ctx, store.DefaultRetries, func() error {
		d, err := w.store.GetDeal(ctx, dealUUID)
		if err != nil {
			return err
		}
		if err := CheckAdvance(d, stage); err != nil {
			return err
		}
		st := model.Stage{
			Seq:      len(d.Stages) + 1,
			Name:     stage,
			Date:     w.clock.Now(),
			Metadata: metadata,
		}
		v, err := w.store.AppendStage(ctx, dealUUID, d.Version, st)
		if err != nil {
			return err
		}
		d.Stages = append(d.Stages, st)
		d.Version = v
		out = d
		return nil
	})
	if err != nil {
		return model.Deal{}, err
	}
	w.log.Info().Str("deal", dealUUID).Str("stage", string(stage)).Msg("deal advanced")
	return out, nil
}

// CheckAdvance reports whether stage may be appended to d's log.
func CheckAdvance(d model.Deal, stage model.StageName) error {
	const op = "deal.Advance"

	switch {
	case stage == model.StageOffer:
		return apperr.New(apperr.KindInvalidTransition, op, d.UUID, "OFFER only opens a deal")
	case !stage.IsIntermediate() && !stage.IsTerminal():
		return apperr.New(apperr.KindInvalidTransition, op, d.UUID, "unknown stage %q", stage)
	case d.Terminal():
		last, _ := d.LastStage()
		return apperr.New(apperr.KindInvalidTransition, op, d.UUID, "deal already ended with %s", last.Name)
	}
	return nil
}

// Accrue adds delta to the paid amount and returns the updated deal.
func (w *Workflow) Accrue(ctx context.Context, dealUUID string, delta decimal.Decimal) (model.Deal, error) {
	const op = "deal.Accrue"

	if !delta.IsPositive() {
		return model.Deal{}, apperr.New(apperr.KindInvalid, op, dealUUID, "payment must be positive")
	}

	var out model.Deal
	err := store.RetryOnConflict(ctx, store.DefaultRetries, func() error {
		d, err := w.store.GetDeal(ctx, dealUUID)
		if err != nil {
			return err
		}
		if d.HasStage(model.StageCancelled) {
			return apperr.New(apperr.KindInvalidTransition, op, dealUUID, "deal is cancelled")
		}
		total := d.PaidAmount.Add(delta)
		v, err := w.store.UpdatePaidAmount(ctx, dealUUID, d.Version, total)
		if err != nil {
			return err
		}
		d.PaidAmount = total
		d.Version = v
		out = d
		return nil
	})
	if err != nil {
		return model.Deal{}, err
	}
	w.log.Info().Str("deal", dealUUID).Str("delta", delta.String()).Str("paid", out.PaidAmount.String()).Msg("payment accrued")
	return out, nil
}

// AppendMessages adds chat lines to the deal. Lines whose ID is already
// stored are skipped. It returns the number of new lines.
func (w *Workflow) AppendMessages(ctx context.Context, dealUUID string, in ...MessageInput) (int, error) {
	msgs := make([]model.Message, 0, len(in))
	for i, m := range in {
		if err := model.Validate(m); err != nil {
			return 0, apperr.New(apperr.KindInvalid, "deal.AppendMessages", dealUUID, "message %d: %v", i, err)
		}
		msg := model.Message{ID: m.ID, Text: m.Text, Sender: m.Sender}
		if msg.ID == "" {
			msg.ID = w.ids.New()
		}
		msg.CreatedAt = w.clock.Now()
		if m.CreatedAt != "" {
			at, err := parseTimestamp(m.CreatedAt)
			if err != nil {
				return 0, apperr.Wrap(apperr.KindInvalid, "deal.AppendMessages", dealUUID, err)
			}
			msg.CreatedAt = at
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	return w.store.AppendMessages(ctx, dealUUID, msgs)
}

// AttachDocument appends a document to the deal and returns its id.
func (w *Workflow) AttachDocument(ctx context.Context, dealUUID string, doc model.Document) (string, error) {
	if err := model.Validate(doc); err != nil {
		return "", err
	}
	id := w.ids.New()
	if err := w.store.AttachDocument(ctx, dealUUID, id, doc, w.clock.Now()); err != nil {
		return "", err
	}
	return id, nil
}

// SetContract fills the original or signed contract slot.
func (w *Workflow) SetContract(ctx context.Context, dealUUID string, kind model.ContractKind, doc model.Document) (model.Deal, error) {
	if kind != model.ContractOriginal && kind != model.ContractSigned {
		return model.Deal{}, apperr.New(apperr.KindInvalid, "deal.SetContract", dealUUID,
			"contract kind must be %s or %s", model.ContractOriginal, model.ContractSigned)
	}
	if err := model.Validate(doc); err != nil {
		return model.Deal{}, err
	}

	var out model.Deal
	err := store.RetryOnConflict(ctx, store.DefaultRetries, func() error {
		d, err := w.store.GetDeal(ctx, dealUUID)
		if err != nil {
			return err
		}
		v, err := w.store.SetContract(ctx, dealUUID, d.Version, kind, doc)
		if err != nil {
			return err
		}
		if kind == model.ContractOriginal {
			d.OriginalContract = &doc
		} else {
			d.SignedContract = &doc
		}
		d.Version = v
		out = d
		return nil
	})
	return out, err
}

// Get returns one deal with its logs.
func (w *Workflow) Get(ctx context.Context, dealUUID string) (model.Deal, error) {
	return w.store.GetDeal(ctx, dealUUID)
}

// ListForParty returns deals where the party is the buyer or owns the asset.
func (w *Workflow) ListForParty(ctx context.Context, partyUUID string) ([]model.Deal, error) {
	if strings.TrimSpace(partyUUID) == "" {
		return nil, apperr.New(apperr.KindInvalid, "deal.ListForParty", "", "party is required")
	}
	return w.store.ListDeals(ctx, store.DealFilter{PartyUUID: partyUUID})
}

// ListCompleted returns every deal whose log contains COMPLETED.
func (w *Workflow) ListCompleted(ctx context.Context) ([]model.Deal, error) {
	return w.store.ListDeals(ctx, store.DealFilter{Stage: model.StageCompleted})
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
