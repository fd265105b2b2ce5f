package store

import (
	"context"
	"fmt"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/model"
)

// InsertCitizen adds a directory entry. A reused UUID or NIDA fails with
// AlreadyExists.
func (s *Store) InsertCitizen(ctx context.Context, c model.Citizen) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO citizens (`+citizenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), c.UUID, c.FullName, c.NIDA, c.PhoneNumber, c.Email, c.Avatar, formatTime(c.RegisteredAt))
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindAlreadyExists, "store.InsertCitizen", c.NIDA, "a citizen with this NIDA is already registered")
	}
	if err != nil {
		return fmt.Errorf("insert citizen: %w", err)
	}
	return nil
}

// GetCitizen loads one directory entry.
func (s *Store) GetCitizen(ctx context.Context, uuid string) (model.Citizen, error) {
	var row citizenRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+citizenColumns+` FROM citizens WHERE uuid = ?`), uuid)
	if isNoRows(err) {
		return model.Citizen{}, apperr.New(apperr.KindNotFound, "store.GetCitizen", uuid, "citizen is not registered")
	}
	if err != nil {
		return model.Citizen{}, fmt.Errorf("get citizen: %w", err)
	}
	return row.model()
}

// ListCitizens returns the directory in registration order.
func (s *Store) ListCitizens(ctx context.Context) ([]model.Citizen, error) {
	var rows []citizenRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+citizenColumns+` FROM citizens ORDER BY registered_at ASC, uuid ASC
	`))
	if err != nil {
		return nil, fmt.Errorf("list citizens: %w", err)
	}
	out := make([]model.Citizen, 0, len(rows))
	for _, r := range rows {
		c, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
