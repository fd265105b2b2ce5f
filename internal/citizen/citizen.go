// Package citizen is the directory of registered parties. Asset owners and
// deal buyers resolve against it, and their stored profile comes from here
// rather than from the request that named them.
package citizen

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/titlechain/internal/clock"
	"github.com/roach88/titlechain/internal/ids"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/store"
)

// Directory is the citizen directory.
type Directory struct {
	store *store.Store
	ids   ids.Generator
	clock clock.Clock
	log   zerolog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithIDs replaces the UUIDv7 generator.
func WithIDs(g ids.Generator) Option {
	return func(d *Directory) { d.ids = g }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(d *Directory) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Directory) { d.log = l }
}

// New creates a Directory.
func New(s *store.Store, opts ...Option) *Directory {
	d := &Directory{
		store: s,
		ids:   ids.UUIDv7{},
		clock: clock.System{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	FullName    string `json:"fullName" validate:"required"`
	NIDA        string `json:"nida" validate:"required"`
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	Email       string `json:"email" validate:"omitempty,email"`
	Avatar      string `json:"avatar" validate:"omitempty,url"`
}

// Register adds a citizen. A NIDA number can be registered once; a second
// registration fails with AlreadyExists.
func (d *Directory) Register(ctx context.Context, in RegisterInput) (model.Citizen, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.NIDA = norm.NFC.String(strings.TrimSpace(in.NIDA))
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if err := model.Validate(in); err != nil {
		return model.Citizen{}, err
	}

	c := model.Citizen{
		UUID:         d.ids.New(),
		FullName:     in.FullName,
		NIDA:         in.NIDA,
		PhoneNumber:  in.PhoneNumber,
		Email:        in.Email,
		Avatar:       in.Avatar,
		RegisteredAt: d.clock.Now(),
	}
	if err := d.store.InsertCitizen(ctx, c); err != nil {
		return model.Citizen{}, err
	}
	d.log.Info().Str("citizen", c.UUID).Msg("citizen registered")
	return c, nil
}

// Get returns one citizen.
func (d *Directory) Get(ctx context.Context, uuid string) (model.Citizen, error) {
	return d.store.GetCitizen(ctx, uuid)
}

// List returns every citizen in registration order.
func (d *Directory) List(ctx context.Context) ([]model.Citizen, error) {
	return d.store.ListCitizens(ctx)
}

// Resolve looks p up by UUID and returns the directory's profile for it. An
// unregistered UUID fails with NotFound.
func (d *Directory) Resolve(ctx context.Context, p model.Party) (model.Party, error) {
	c, err := d.store.GetCitizen(ctx, p.UUID)
	if err != nil {
		return model.Party{}, err
	}
	return c.Party(), nil
}
