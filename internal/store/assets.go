package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/model"
)

// AssetFilter narrows ListAssets. Zero value lists everything.
type AssetFilter struct {
	OwnerUUID  string
	ListedOnly bool
}

// InsertAsset stores a new asset. The asset's Version is stored as given
// (callers start at 1). Fails with AlreadyExists when the uuid is taken.
func (s *Store) InsertAsset(ctx context.Context, a model.Asset) error {
	row, err := newAssetRow(a)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (:uuid, :type, :owner, :owner_uuid, :past_owners, :location, :dimensions,
			:valuation, :description, :parcel_number, :plot_number, :title_number, :is_listed,
			:listing_price, :listed_on, :documents, :images, :registered_at, :ledger_synced, :version)
		ON CONFLICT (uuid) DO NOTHING
	`, row)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindAlreadyExists, "store.InsertAsset", a.UUID, "asset already exists")
	}
	return nil
}

// GetAsset loads one asset.
func (s *Store) GetAsset(ctx context.Context, uuid string) (model.Asset, error) {
	return getAsset(ctx, s.db, s.q, uuid)
}

func getAsset(ctx context.Context, q sqlx.QueryerContext, rebind func(string) string, uuid string) (model.Asset, error) {
	var row assetRow
	err := sqlx.GetContext(ctx, q, &row, rebind(`SELECT `+assetColumns+` FROM assets WHERE uuid = ?`), uuid)
	if isNoRows(err) {
		return model.Asset{}, apperr.New(apperr.KindNotFound, "store.GetAsset", uuid, "asset does not exist")
	}
	if err != nil {
		return model.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return row.model()
}

// ListAssets returns assets in registration order.
func (s *Store) ListAssets(ctx context.Context, f AssetFilter) ([]model.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE 1 = 1`
	var args []any
	if f.OwnerUUID != "" {
		query += ` AND owner_uuid = ?`
		args = append(args, f.OwnerUUID)
	}
	if f.ListedOnly {
		query += ` AND is_listed = ?`
		args = append(args, true)
	}
	query += ` ORDER BY registered_at ASC, uuid ASC`

	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]model.Asset, 0, len(rows))
	for _, r := range rows {
		a, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// UpdateAsset overwrites every column of an asset if its stored version
// still equals a.Version, and returns the asset at its new version.
// Ownership columns are written too; use ApplyTransfer or ForwardOwner to
// change the owner so the history stays consistent.
func (s *Store) UpdateAsset(ctx context.Context, a model.Asset) (model.Asset, error) {
	row, err := newAssetRow(a)
	if err != nil {
		return model.Asset{}, err
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE assets SET
			type = :type, owner = :owner, owner_uuid = :owner_uuid, past_owners = :past_owners,
			location = :location, dimensions = :dimensions, valuation = :valuation,
			description = :description, parcel_number = :parcel_number, plot_number = :plot_number,
			title_number = :title_number, is_listed = :is_listed, listing_price = :listing_price,
			listed_on = :listed_on, documents = :documents, images = :images,
			ledger_synced = :ledger_synced, version = version + 1
		WHERE uuid = :uuid AND version = :version
	`, row)
	if err != nil {
		return model.Asset{}, fmt.Errorf("update asset: %w", err)
	}
	if err := checkVersioned(ctx, s.db, s.q, res, "assets", "store.UpdateAsset", a.UUID); err != nil {
		return model.Asset{}, err
	}
	a.Version++
	return a, nil
}

// MarkLedgerSynced records whether the ledger mirror is confirmed. It does
// not bump the version; it is bookkeeping, not a metadata change.
func (s *Store) MarkLedgerSynced(ctx context.Context, uuid string, synced bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE assets SET ledger_synced = ? WHERE uuid = ?`), synced, uuid)
	if err != nil {
		return fmt.Errorf("mark ledger synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark ledger synced: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "store.MarkLedgerSynced", uuid, "asset does not exist")
	}
	return nil
}

// DeleteAsset removes an asset; its deals go with it.
func (s *Store) DeleteAsset(ctx context.Context, uuid string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM assets WHERE uuid = ?`), uuid)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "store.DeleteAsset", uuid, "asset does not exist")
	}
	return nil
}

// ForwardOwner moves an asset from expectedOwner to newOwner outside of any
// deal, appending the old owner to the history and clearing the listing.
// Reconciliation uses it to adopt the ledger's owner.
func (s *Store) ForwardOwner(ctx context.Context, assetUUID, expectedOwner string, newOwner model.Party) (model.Asset, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Asset{}, fmt.Errorf("forward owner: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	a, err := changeOwner(ctx, tx, assetUUID, expectedOwner, newOwner)
	if err != nil {
		return model.Asset{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Asset{}, fmt.Errorf("forward owner: commit: %w", err)
	}
	return a, nil
}

// changeOwner is the owner compare-and-set shared by transfers and
// reconciliation. It runs inside tx.
func changeOwner(ctx context.Context, tx *sqlx.Tx, assetUUID, expectedOwner string, newOwner model.Party) (model.Asset, error) {
	const op = "store.changeOwner"

	a, err := getAsset(ctx, tx, tx.Rebind, assetUUID)
	if err != nil {
		return model.Asset{}, err
	}
	if a.Owner.UUID != expectedOwner {
		return model.Asset{}, apperr.New(apperr.KindConflict, op, assetUUID,
			"owner is %s, expected %s", a.Owner.UUID, expectedOwner)
	}

	a.PastOwners = append(a.PastOwners, a.Owner)
	a.Owner = newOwner
	a.IsListed = false
	a.ListingPrice.Valid = false
	a.ListedOn = nil

	owner, err := toJSON(a.Owner)
	if err != nil {
		return model.Asset{}, err
	}
	past, err := toJSON(a.PastOwners)
	if err != nil {
		return model.Asset{}, err
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE assets SET
			owner = ?, owner_uuid = ?, past_owners = ?,
			is_listed = ?, listing_price = NULL, listed_on = NULL,
			version = version + 1
		WHERE uuid = ? AND owner_uuid = ? AND version = ?
	`), owner, newOwner.UUID, past, false, assetUUID, expectedOwner, a.Version)
	if err != nil {
		return model.Asset{}, fmt.Errorf("change owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Asset{}, fmt.Errorf("change owner: %w", err)
	}
	if n == 0 {
		return model.Asset{}, apperr.New(apperr.KindConflict, op, assetUUID, "asset changed concurrently")
	}
	a.Version++
	return a, nil
}

// checkVersioned turns a zero-row versioned update into NotFound or Conflict.
func checkVersioned(ctx context.Context, q sqlx.QueryerContext, rebind func(string) string, res sql.Result, table, op, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = sqlx.GetContext(ctx, q, &exists, rebind(`SELECT COUNT(*) FROM `+table+` WHERE uuid = ?`), key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if exists == 0 {
		return apperr.New(apperr.KindNotFound, op, key, "record does not exist")
	}
	return apperr.New(apperr.KindConflict, op, key, "version changed concurrently")
}
