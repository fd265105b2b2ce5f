// Package registry manages assets: the relational record is written first and
// the consensus facts are mirrored to the ledger. Listing and read
// projections never touch the ledger.
package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/clock"
	"github.com/roach88/titlechain/internal/ids"
	"github.com/roach88/titlechain/internal/ledger"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/store"
)

// Resolver turns a party named in a request into the registered profile.
type Resolver interface {
	Resolve(ctx context.Context, p model.Party) (model.Party, error)
}

// Registry is the AssetRegistry.
type Registry struct {
	store    *store.Store
	ledger   ledger.Client
	citizens Resolver
	ids      ids.Generator
	clock    clock.Clock
	log      zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDs replaces the UUIDv7 generator (tests use ids.Fixed).
func WithIDs(g ids.Generator) Option {
	return func(r *Registry) { r.ids = g }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithCitizens makes CreateAsset resolve the owner against a directory.
// Without it the owner profile is stored as given.
func WithCitizens(c Resolver) Option {
	return func(r *Registry) { r.citizens = c }
}

// New creates a Registry over a relational store and a ledger client.
func New(s *store.Store, lc ledger.Client, opts ...Option) *Registry {
	r := &Registry{
		store:  s,
		ledger: lc,
		ids:    ids.UUIDv7{},
		clock:  clock.System{},
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AssetInput is the payload for CreateAsset.
type AssetInput struct {
	Type         model.AssetType  `json:"type" validate:"required,oneof=LAND HOUSE APARTMENT COMMERCIAL FARM"`
	Owner        model.Party      `json:"owner" validate:"required"`
	Location     model.Location   `json:"location" validate:"required"`
	Dimensions   model.Dimensions `json:"dimensions"`
	Valuation    decimal.Decimal  `json:"valuation"`
	Description  string           `json:"description"`
	ParcelNumber string           `json:"parcelNumber" validate:"required"`
	PlotNumber   string           `json:"plotNumber" validate:"required"`
	TitleNumber  string           `json:"titleNumber" validate:"required"`
	Documents    []model.Document `json:"documents" validate:"dive"`
	Images       []string         `json:"images" validate:"dive,url"`
}

// UpdateInput replaces an asset's descriptive fields. Ownership is not
// updatable here; it only changes through a completed deal. Version, when
// non-zero, must match the stored version.
type UpdateInput struct {
	Type         model.AssetType  `json:"type" validate:"required,oneof=LAND HOUSE APARTMENT COMMERCIAL FARM"`
	Location     model.Location   `json:"location" validate:"required"`
	Dimensions   model.Dimensions `json:"dimensions"`
	Valuation    decimal.Decimal  `json:"valuation"`
	Description  string           `json:"description"`
	ParcelNumber string           `json:"parcelNumber" validate:"required"`
	PlotNumber   string           `json:"plotNumber" validate:"required"`
	TitleNumber  string           `json:"titleNumber" validate:"required"`
	Documents    []model.Document `json:"documents" validate:"dive"`
	Images       []string         `json:"images" validate:"dive,url"`
	Version      int64            `json:"version"`
}

// CreateAsset registers a new asset and mirrors it to the ledger. When the
// ledger write fails the asset is still returned, unsynced, together with
// the typed ledger error; reconciliation completes the mirror later.
func (r *Registry) CreateAsset(ctx context.Context, in AssetInput) (model.Asset, error) {
	if err := model.Validate(in); err != nil {
		return model.Asset{}, err
	}
	if in.Valuation.IsNegative() {
		return model.Asset{}, apperr.New(apperr.KindInvalid, "registry.CreateAsset", "", "valuation must not be negative")
	}
	if in.Dimensions.Unit == "" {
		in.Dimensions.Unit = model.DefaultAreaUnit
	}
	in.Owner.UUID = norm.NFC.String(in.Owner.UUID)
	normalizeFacts(&in.ParcelNumber, &in.PlotNumber, &in.TitleNumber)
	if r.citizens != nil {
		owner, err := r.citizens.Resolve(ctx, in.Owner)
		if err != nil {
			return model.Asset{}, err
		}
		in.Owner = owner
	}

	a := model.Asset{
		UUID:         r.ids.New(),
		Type:         in.Type,
		Owner:        in.Owner,
		PastOwners:   []model.Party{},
		Location:     in.Location,
		Dimensions:   in.Dimensions,
		Valuation:    in.Valuation,
		Description:  in.Description,
		ParcelNumber: in.ParcelNumber,
		PlotNumber:   in.PlotNumber,
		TitleNumber:  in.TitleNumber,
		Documents:    orEmpty(in.Documents),
		Images:       orEmpty(in.Images),
		RegisteredAt: r.clock.Now(),
		Version:      1,
	}
	if err := r.store.InsertAsset(ctx, a); err != nil {
		return model.Asset{}, err
	}

	if err := r.mirrorCreate(ctx, a.Facts()); err != nil {
		r.log.Warn().Err(err).Str("asset", a.UUID).Msg("ledger create failed; left unsynced")
		return a, err
	}
	if err := r.store.MarkLedgerSynced(ctx, a.UUID, true); err != nil {
		return a, err
	}
	a.LedgerSynced = true

	r.log.Info().Str("asset", a.UUID).Str("owner", a.Owner.UUID).Msg("asset registered")
	return a, nil
}

// UpdateAsset replaces descriptive fields. If a ledger fact changed the
// ledger record is rewritten with the full fact set and the owner the
// ledger currently holds.
func (r *Registry) UpdateAsset(ctx context.Context, uuid string, in UpdateInput) (model.Asset, error) {
	if err := model.Validate(in); err != nil {
		return model.Asset{}, err
	}
	if in.Dimensions.Unit == "" {
		in.Dimensions.Unit = model.DefaultAreaUnit
	}
	normalizeFacts(&in.ParcelNumber, &in.PlotNumber, &in.TitleNumber)

	var before, after model.Asset
	attempts := store.DefaultRetries
	if in.Version != 0 {
		attempts = 1
	}
	err := store.RetryOnConflict(ctx, attempts, func() error {
		cur, err := r.store.GetAsset(ctx, uuid)
		if err != nil {
			return err
		}
		if in.Version != 0 && cur.Version != in.Version {
			return apperr.New(apperr.KindConflict, "registry.UpdateAsset", uuid,
				"version is %d, request was based on %d", cur.Version, in.Version)
		}
		next := cur
		next.Type = in.Type
		next.Location = in.Location
		next.Dimensions = in.Dimensions
		next.Valuation = in.Valuation
		next.Description = in.Description
		next.ParcelNumber = in.ParcelNumber
		next.PlotNumber = in.PlotNumber
		next.TitleNumber = in.TitleNumber
		next.Documents = orEmpty(in.Documents)
		next.Images = orEmpty(in.Images)

		saved, err := r.store.UpdateAsset(ctx, next)
		if err != nil {
			return err
		}
		before, after = cur, saved
		return nil
	})
	if err != nil {
		return model.Asset{}, err
	}

	if before.Facts() == after.Facts() {
		return after, nil
	}
	if err := r.mirrorUpdate(ctx, after); err != nil {
		r.log.Warn().Err(err).Str("asset", uuid).Msg("ledger update failed; left unsynced")
		if markErr := r.store.MarkLedgerSynced(ctx, uuid, false); markErr != nil {
			return after, markErr
		}
		after.LedgerSynced = false
		return after, err
	}
	return after, nil
}

// DeleteAsset removes the asset locally, then from the ledger. It refuses
// while a deal on the asset is still open.
func (r *Registry) DeleteAsset(ctx context.Context, uuid string) error {
	if _, err := r.store.GetAsset(ctx, uuid); err != nil {
		return err
	}
	open, err := r.store.HasOpenDeal(ctx, uuid)
	if err != nil {
		return err
	}
	if open {
		return apperr.New(apperr.KindConflict, "registry.DeleteAsset", uuid, "asset has an open deal")
	}
	if err := r.store.DeleteAsset(ctx, uuid); err != nil {
		return err
	}

	err = r.ledger.DeleteAsset(ctx, "delete:"+uuid, uuid)
	if err != nil && !apperr.IsNotFound(err) {
		r.log.Warn().Err(err).Str("asset", uuid).Msg("ledger delete failed; left as orphan")
		return err
	}
	r.log.Info().Str("asset", uuid).Msg("asset deleted")
	return nil
}

// ListAsset puts the asset on the marketplace at price.
func (r *Registry) ListAsset(ctx context.Context, uuid string, price decimal.Decimal) (model.Asset, error) {
	if !price.IsPositive() {
		return model.Asset{}, apperr.New(apperr.KindInvalid, "registry.ListAsset", uuid, "listing price must be positive")
	}
	return r.updateListing(ctx, uuid, func(a *model.Asset) {
		now := r.clock.Now()
		a.IsListed = true
		a.ListingPrice = decimal.NewNullDecimal(price)
		a.ListedOn = &now
	})
}

// DelistAsset takes the asset off the marketplace.
func (r *Registry) DelistAsset(ctx context.Context, uuid string) (model.Asset, error) {
	return r.updateListing(ctx, uuid, func(a *model.Asset) {
		a.IsListed = false
		a.ListingPrice = decimal.NullDecimal{}
		a.ListedOn = nil
	})
}

func (r *Registry) updateListing(ctx context.Context, uuid string, apply func(*model.Asset)) (model.Asset, error) {
	var out model.Asset
	err := store.RetryOnConflict(ctx, store.DefaultRetries, func() error {
		a, err := r.store.GetAsset(ctx, uuid)
		if err != nil {
			return err
		}
		apply(&a)
		out, err = r.store.UpdateAsset(ctx, a)
		return err
	})
	return out, err
}

// Get returns one asset.
func (r *Registry) Get(ctx context.Context, uuid string) (model.Asset, error) {
	return r.store.GetAsset(ctx, uuid)
}

// ByOwner returns the assets a party currently owns.
func (r *Registry) ByOwner(ctx context.Context, ownerUUID string) ([]model.Asset, error) {
	return r.store.ListAssets(ctx, store.AssetFilter{OwnerUUID: ownerUUID})
}

// Listed returns the marketplace.
func (r *Registry) Listed(ctx context.Context) ([]model.Asset, error) {
	return r.store.ListAssets(ctx, store.AssetFilter{ListedOnly: true})
}

// All returns every asset.
func (r *Registry) All(ctx context.Context) ([]model.Asset, error) {
	return r.store.ListAssets(ctx, store.AssetFilter{})
}

// Mirror brings the ledger record for uuid in line with the registry's
// facts, keeping the ledger's owner if a record exists, and marks the asset
// synced. Reconciliation calls it for unsynced assets.
func (r *Registry) Mirror(ctx context.Context, uuid string) (string, error) {
	a, err := r.store.GetAsset(ctx, uuid)
	if err != nil {
		return "", err
	}

	action := "mirror_update"
	_, err = r.ledger.ReadAsset(ctx, uuid)
	switch {
	case apperr.IsNotFound(err):
		action = "mirror_create"
		err = r.mirrorCreate(ctx, a.Facts())
	case err == nil:
		err = r.mirrorUpdate(ctx, a)
	}
	if err != nil {
		return "", err
	}
	if err := r.store.MarkLedgerSynced(ctx, uuid, true); err != nil {
		return "", err
	}
	return action, nil
}

// mirrorCreate writes facts to the ledger. An existing record with the same
// facts counts as success, which makes retries after a lost response safe.
func (r *Registry) mirrorCreate(ctx context.Context, f model.Facts) error {
	err := r.ledger.CreateAsset(ctx, "create:"+f.UUID, f)
	if !apperr.IsAlreadyExists(err) {
		return err
	}
	existing, readErr := r.ledgerFacts(ctx, f.UUID)
	if readErr != nil {
		return readErr
	}
	if existing == f.Normalized() {
		return nil
	}
	return err
}

// mirrorUpdate rewrites the ledger record with a's non-owner facts and the
// ledger's current owner. A missing record is left for reconciliation.
func (r *Registry) mirrorUpdate(ctx context.Context, a model.Asset) error {
	current, err := r.ledgerFacts(ctx, a.UUID)
	if err != nil {
		return err
	}
	f := a.Facts().Normalized()
	f.OwnerUUID = current.OwnerUUID
	if f == current {
		return nil
	}
	txID := fmt.Sprintf("update:%s:%d", a.UUID, a.Version)
	return r.ledger.UpdateAsset(ctx, txID, f)
}

func (r *Registry) ledgerFacts(ctx context.Context, uuid string) (model.Facts, error) {
	data, err := r.ledger.ReadAsset(ctx, uuid)
	if err != nil {
		return model.Facts{}, err
	}
	f, err := ledger.DecodeFacts(data)
	if err != nil {
		return model.Facts{}, apperr.Wrap(apperr.KindDivergence, "registry.ledgerFacts", uuid, err)
	}
	return f, nil
}

// normalizeFacts puts ledger-bound identifiers in NFC, the form the ledger
// stores, so both sides compare equal.
func normalizeFacts(fields ...*string) {
	for _, f := range fields {
		*f = norm.NFC.String(*f)
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
