package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/model"
)

// DealFilter narrows ListDeals. PartyUUID matches deals where the party is
// the buyer or currently owns the asset. Stage matches deals whose log
// contains that stage.
type DealFilter struct {
	PartyUUID string
	AssetUUID string
	Stage     model.StageName
}

// InsertDeal stores a new deal together with its initial stages.
func (s *Store) InsertDeal(ctx context.Context, d model.Deal) error {
	buyer, err := toJSON(d.Buyer)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	seller, err := toJSON(d.Seller)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert deal: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO deals (uuid, asset_uuid, buyer, buyer_uuid, seller, seller_uuid,
			proposed_price, payment_type, paid_amount, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO NOTHING
	`), d.UUID, d.AssetUUID, buyer, d.Buyer.UUID, seller, d.Seller.UUID,
		d.ProposedPrice, d.PaymentType, d.PaidAmount, formatTime(d.CreatedAt), d.Version)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindAlreadyExists, "store.InsertDeal", d.UUID, "deal already exists")
	}

	for _, st := range d.Stages {
		if err := insertStage(ctx, tx, d.UUID, st); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert deal: commit: %w", err)
	}
	return nil
}

// GetDeal loads a deal with its stage, message and document logs.
func (s *Store) GetDeal(ctx context.Context, uuid string) (model.Deal, error) {
	var row dealRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+dealColumns+` FROM deals WHERE uuid = ?`), uuid)
	if isNoRows(err) {
		return model.Deal{}, apperr.New(apperr.KindNotFound, "store.GetDeal", uuid, "deal does not exist")
	}
	if err != nil {
		return model.Deal{}, fmt.Errorf("get deal: %w", err)
	}
	return s.hydrateDeal(ctx, row)
}

// ListDeals returns matching deals in creation order.
func (s *Store) ListDeals(ctx context.Context, f DealFilter) ([]model.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals d WHERE 1 = 1`
	var args []any
	if f.PartyUUID != "" {
		query += ` AND (d.buyer_uuid = ? OR d.asset_uuid IN (SELECT uuid FROM assets WHERE owner_uuid = ?))`
		args = append(args, f.PartyUUID, f.PartyUUID)
	}
	if f.AssetUUID != "" {
		query += ` AND d.asset_uuid = ?`
		args = append(args, f.AssetUUID)
	}
	if f.Stage != "" {
		query += ` AND EXISTS (SELECT 1 FROM deal_stages s WHERE s.deal_uuid = d.uuid AND s.name = ?)`
		args = append(args, string(f.Stage))
	}
	query += ` ORDER BY d.created_at ASC, d.uuid ASC`

	var rows []dealRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	out := make([]model.Deal, 0, len(rows))
	for _, r := range rows {
		d, err := s.hydrateDeal(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// HasOpenDeal reports whether any deal on the asset has not reached a
// terminal stage.
func (s *Store) HasOpenDeal(ctx context.Context, assetUUID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`
		SELECT COUNT(*) FROM deals d
		WHERE d.asset_uuid = ?
		AND NOT EXISTS (
			SELECT 1 FROM deal_stages s
			WHERE s.deal_uuid = d.uuid AND s.name IN (?, ?)
		)
	`), assetUUID, string(model.StageCompleted), string(model.StageCancelled))
	if err != nil {
		return false, fmt.Errorf("has open deal: %w", err)
	}
	return n > 0, nil
}

// AppendStage adds st to the deal's log if the deal is still at
// expectedVersion, and returns the new version. A second terminal stage is
// rejected by the database as InvalidTransition.
func (s *Store) AppendStage(ctx context.Context, dealUUID string, expectedVersion int64, st model.Stage) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append stage: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := bumpDealVersion(ctx, tx, dealUUID, expectedVersion, "store.AppendStage"); err != nil {
		return 0, err
	}
	if err := insertStage(ctx, tx, dealUUID, st); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append stage: commit: %w", err)
	}
	return expectedVersion + 1, nil
}

// UpdatePaidAmount sets the paid amount if the deal is still at
// expectedVersion, and returns the new version.
func (s *Store) UpdatePaidAmount(ctx context.Context, dealUUID string, expectedVersion int64, amount decimal.Decimal) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE deals SET paid_amount = ?, version = version + 1
		WHERE uuid = ? AND version = ?
	`), amount, dealUUID, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update paid amount: %w", err)
	}
	if err := checkVersioned(ctx, s.db, s.q, res, "deals", "store.UpdatePaidAmount", dealUUID); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// SetContract fills the original or signed contract slot if the deal is
// still at expectedVersion, and returns the new version.
func (s *Store) SetContract(ctx context.Context, dealUUID string, expectedVersion int64, kind model.ContractKind, doc model.Document) (int64, error) {
	var column string
	switch kind {
	case model.ContractOriginal:
		column = "original_contract"
	case model.ContractSigned:
		column = "signed_contract"
	default:
		return 0, apperr.New(apperr.KindInvalid, "store.SetContract", dealUUID, "unknown contract kind %q", kind)
	}
	data, err := toJSON(doc)
	if err != nil {
		return 0, fmt.Errorf("set contract: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE deals SET `+column+` = ?, version = version + 1
		WHERE uuid = ? AND version = ?
	`), data, dealUUID, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("set contract: %w", err)
	}
	if err := checkVersioned(ctx, s.db, s.q, res, "deals", "store.SetContract", dealUUID); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// AppendMessages stores chat messages. Messages whose ID is already stored
// for the deal are skipped; the count of new messages is returned.
func (s *Store) AppendMessages(ctx context.Context, dealUUID string, msgs []model.Message) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append messages: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := requireDeal(ctx, tx, dealUUID, "store.AppendMessages"); err != nil {
		return 0, err
	}

	inserted := 0
	for _, m := range msgs {
		sender, err := toJSON(m.Sender)
		if err != nil {
			return 0, fmt.Errorf("append messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO deal_messages (deal_uuid, id, text, sender, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (deal_uuid, id) DO NOTHING
		`), dealUUID, m.ID, m.Text, sender, formatTime(m.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("append messages: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("append messages: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append messages: commit: %w", err)
	}
	return inserted, nil
}

// AttachDocument appends a document to the deal under id.
func (s *Store) AttachDocument(ctx context.Context, dealUUID, id string, doc model.Document, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("attach document: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := requireDeal(ctx, tx, dealUUID, "store.AttachDocument"); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO deal_documents (deal_uuid, id, name, url, kind, attached_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), dealUUID, id, doc.Name, doc.URL, doc.Kind, formatTime(at))
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindAlreadyExists, "store.AttachDocument", id, "document id already used")
	}
	if err != nil {
		return fmt.Errorf("attach document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("attach document: commit: %w", err)
	}
	return nil
}

func (s *Store) hydrateDeal(ctx context.Context, row dealRow) (model.Deal, error) {
	d, err := row.model()
	if err != nil {
		return model.Deal{}, err
	}

	var stages []stageRow
	if err := s.db.SelectContext(ctx, &stages, s.q(`
		SELECT deal_uuid, seq, name, date, metadata FROM deal_stages
		WHERE deal_uuid = ? ORDER BY seq ASC
	`), d.UUID); err != nil {
		return model.Deal{}, fmt.Errorf("load stages: %w", err)
	}
	d.Stages = make([]model.Stage, 0, len(stages))
	for _, r := range stages {
		st, err := r.model()
		if err != nil {
			return model.Deal{}, err
		}
		d.Stages = append(d.Stages, st)
	}

	var msgs []messageRow
	if err := s.db.SelectContext(ctx, &msgs, s.q(`
		SELECT deal_uuid, id, text, sender, created_at FROM deal_messages
		WHERE deal_uuid = ? ORDER BY created_at ASC, id ASC
	`), d.UUID); err != nil {
		return model.Deal{}, fmt.Errorf("load messages: %w", err)
	}
	d.Messages = make([]model.Message, 0, len(msgs))
	for _, r := range msgs {
		m, err := r.model()
		if err != nil {
			return model.Deal{}, err
		}
		d.Messages = append(d.Messages, m)
	}

	var docs []documentRow
	if err := s.db.SelectContext(ctx, &docs, s.q(`
		SELECT deal_uuid, id, name, url, kind, attached_at FROM deal_documents
		WHERE deal_uuid = ? ORDER BY attached_at ASC, id ASC
	`), d.UUID); err != nil {
		return model.Deal{}, fmt.Errorf("load documents: %w", err)
	}
	d.Documents = make([]model.Document, 0, len(docs))
	for _, r := range docs {
		d.Documents = append(d.Documents, model.Document{Name: r.Name, URL: r.URL, Kind: r.Kind})
	}
	return d, nil
}

func insertStage(ctx context.Context, tx *sqlx.Tx, dealUUID string, st model.Stage) error {
	meta := st.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := toJSON(meta)
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO deal_stages (deal_uuid, seq, name, date, metadata)
		VALUES (?, ?, ?, ?, ?)
	`), dealUUID, st.Seq, string(st.Name), formatTime(st.Date), data)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindInvalidTransition, "store.insertStage", dealUUID,
			"deal already has stage %d or a terminal stage", st.Seq)
	}
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	return nil
}

func bumpDealVersion(ctx context.Context, tx *sqlx.Tx, dealUUID string, expectedVersion int64, op string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE deals SET version = version + 1 WHERE uuid = ? AND version = ?
	`), dealUUID, expectedVersion)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return checkVersioned(ctx, tx, tx.Rebind, res, "deals", op, dealUUID)
}

func requireDeal(ctx context.Context, tx *sqlx.Tx, dealUUID, op string) error {
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM deals WHERE uuid = ?`), dealUUID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, op, dealUUID, "deal does not exist")
	}
	return nil
}
