package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/model"
)

// ApplyTransfer moves t.AssetUUID from t.From to t.To and records the
// transfer intent, in one transaction, cancelling the asset's other open
// deals. If an intent for the deal already
// exists nothing changes and the existing intent is returned with
// applied=false. The owner change is a compare-and-set on t.From; a
// different current owner fails with Conflict.
func (s *Store) ApplyTransfer(ctx context.Context, t model.Transfer) (model.Transfer, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Transfer{}, false, fmt.Errorf("apply transfer: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	existing, err := getTransfer(ctx, tx, tx.Rebind, t.DealUUID)
	if err == nil {
		return existing, false, nil
	}
	if !apperr.IsNotFound(err) {
		return model.Transfer{}, false, err
	}

	if _, err := changeOwner(ctx, tx, t.AssetUUID, t.From.UUID, t.To); err != nil {
		return model.Transfer{}, false, err
	}
	t, err = insertTransfer(ctx, tx, t)
	if err != nil {
		return model.Transfer{}, false, err
	}
	if _, err := cancelOpenDeals(ctx, tx, t.AssetUUID, t.DealUUID, t.CreatedAt); err != nil {
		return model.Transfer{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return model.Transfer{}, false, fmt.Errorf("apply transfer: commit: %w", err)
	}
	return t, true, nil
}

// CompleteSale appends st (the COMPLETED stage) to the deal at
// expectedVersion, moves the asset from t.From to t.To, records the intent
// and cancels every other open deal on the asset, all in one transaction.
// When the registry already shows t.To as owner only the stage and the
// intent are written. It returns the deal's new version and the ids of the
// deals it cancelled.
func (s *Store) CompleteSale(ctx context.Context, expectedVersion int64, st model.Stage, t model.Transfer) (int64, []string, error) {
	const op = "store.CompleteSale"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("complete sale: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := bumpDealVersion(ctx, tx, t.DealUUID, expectedVersion, op); err != nil {
		return 0, nil, err
	}
	if err := insertStage(ctx, tx, t.DealUUID, st); err != nil {
		return 0, nil, err
	}

	a, err := getAsset(ctx, tx, tx.Rebind, t.AssetUUID)
	if err != nil {
		return 0, nil, err
	}
	if a.Owner.UUID != t.To.UUID {
		if _, err := changeOwner(ctx, tx, t.AssetUUID, t.From.UUID, t.To); err != nil {
			return 0, nil, err
		}
	}
	if _, err := insertTransfer(ctx, tx, t); err != nil {
		return 0, nil, err
	}

	cancelled, err := cancelOpenDeals(ctx, tx, t.AssetUUID, t.DealUUID, st.Date)
	if err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("complete sale: commit: %w", err)
	}
	return expectedVersion + 1, cancelled, nil
}

// cancelOpenDeals ends every non-terminal deal on the asset except keep with
// a CANCELLED stage.
func cancelOpenDeals(ctx context.Context, tx *sqlx.Tx, assetUUID, keep string, at time.Time) ([]string, error) {
	var open []struct {
		UUID    string `db:"uuid"`
		Version int64  `db:"version"`
		Stages  int    `db:"stages"`
	}
	err := tx.SelectContext(ctx, &open, tx.Rebind(`
		SELECT d.uuid, d.version,
			(SELECT COUNT(*) FROM deal_stages s WHERE s.deal_uuid = d.uuid) AS stages
		FROM deals d
		WHERE d.asset_uuid = ? AND d.uuid <> ?
		AND NOT EXISTS (
			SELECT 1 FROM deal_stages s
			WHERE s.deal_uuid = d.uuid AND s.name IN (?, ?)
		)
		ORDER BY d.created_at ASC, d.uuid ASC
	`), assetUUID, keep, string(model.StageCompleted), string(model.StageCancelled))
	if err != nil {
		return nil, fmt.Errorf("cancel open deals: %w", err)
	}

	ids := make([]string, 0, len(open))
	for _, d := range open {
		if err := bumpDealVersion(ctx, tx, d.UUID, d.Version, "store.cancelOpenDeals"); err != nil {
			return nil, err
		}
		st := model.Stage{
			Seq:      d.Stages + 1,
			Name:     model.StageCancelled,
			Date:     at,
			Metadata: map[string]string{"reason": "asset sold", "soldBy": keep},
		}
		if err := insertStage(ctx, tx, d.UUID, st); err != nil {
			return nil, err
		}
		ids = append(ids, d.UUID)
	}
	return ids, nil
}

func insertTransfer(ctx context.Context, tx *sqlx.Tx, t model.Transfer) (model.Transfer, error) {
	from, err := toJSON(t.From)
	if err != nil {
		return model.Transfer{}, fmt.Errorf("insert transfer: %w", err)
	}
	to, err := toJSON(t.To)
	if err != nil {
		return model.Transfer{}, fmt.Errorf("insert transfer: %w", err)
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.DealUUID, t.AssetUUID, from, to, string(t.Status), t.Attempts, t.LastError,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if isUniqueViolation(err) {
		return model.Transfer{}, apperr.New(apperr.KindAlreadyExists, "store.insertTransfer", t.DealUUID, "deal already has a transfer")
	}
	if err != nil {
		return model.Transfer{}, fmt.Errorf("insert transfer: %w", err)
	}
	return t, nil
}

// RecordTransfer stores an intent without touching the asset, for when the
// registry already shows t.To as owner. It returns false if the deal already
// had an intent.
func (s *Store) RecordTransfer(ctx context.Context, t model.Transfer) (bool, error) {
	from, err := toJSON(t.From)
	if err != nil {
		return false, fmt.Errorf("record transfer: %w", err)
	}
	to, err := toJSON(t.To)
	if err != nil {
		return false, fmt.Errorf("record transfer: %w", err)
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (deal_uuid) DO NOTHING
	`), t.DealUUID, t.AssetUUID, from, to, string(t.Status), t.Attempts, t.LastError,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("record transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record transfer: %w", err)
	}
	return n > 0, nil
}

// GetTransfer loads the intent for a deal.
func (s *Store) GetTransfer(ctx context.Context, dealUUID string) (model.Transfer, error) {
	return getTransfer(ctx, s.db, s.q, dealUUID)
}

func getTransfer(ctx context.Context, q sqlx.QueryerContext, rebind func(string) string, dealUUID string) (model.Transfer, error) {
	var row transferRow
	err := sqlx.GetContext(ctx, q, &row, rebind(`SELECT `+transferColumns+` FROM transfers WHERE deal_uuid = ?`), dealUUID)
	if isNoRows(err) {
		return model.Transfer{}, apperr.New(apperr.KindNotFound, "store.GetTransfer", dealUUID, "no transfer for deal")
	}
	if err != nil {
		return model.Transfer{}, fmt.Errorf("get transfer: %w", err)
	}
	return row.model()
}

// ListTransfers returns intents with the given status (all when empty) in
// creation order.
func (s *Store) ListTransfers(ctx context.Context, status model.TransferStatus) ([]model.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, deal_uuid ASC`

	var rows []transferRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	out := make([]model.Transfer, 0, len(rows))
	for _, r := range rows {
		t, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// HasPendingTransfer reports whether an intent for the asset still waits
// for its ledger commit.
func (s *Store) HasPendingTransfer(ctx context.Context, assetUUID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`
		SELECT COUNT(*) FROM transfers WHERE asset_uuid = ? AND status = ?
	`), assetUUID, string(model.TransferRegistryApplied))
	if err != nil {
		return false, fmt.Errorf("has pending transfer: %w", err)
	}
	return n > 0, nil
}

// RecordTransferAttempt counts a failed ledger submission for the intent.
func (s *Store) RecordTransferAttempt(ctx context.Context, dealUUID, lastError string, at time.Time) error {
	return s.updateTransfer(ctx, "store.RecordTransferAttempt", `
		UPDATE transfers SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE deal_uuid = ?
	`, lastError, formatTime(at), dealUUID)
}

// MarkTransferCommitted records that the ledger reflects the transfer.
func (s *Store) MarkTransferCommitted(ctx context.Context, dealUUID string, at time.Time) error {
	return s.updateTransfer(ctx, "store.MarkTransferCommitted", `
		UPDATE transfers SET status = ?, attempts = attempts + 1, last_error = '', updated_at = ?
		WHERE deal_uuid = ?
	`, string(model.TransferLedgerCommitted), formatTime(at), dealUUID)
}

func (s *Store) updateTransfer(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, op, args[len(args)-1].(string), "no transfer for deal")
	}
	return nil
}
