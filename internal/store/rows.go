package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/titlechain/internal/model"
)

// Timestamps are stored as RFC 3339 text in UTC so both dialects compare and
// sort them the same way.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fromJSON(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

type assetRow struct {
	UUID         string              `db:"uuid"`
	Type         string              `db:"type"`
	Owner        string              `db:"owner"`
	OwnerUUID    string              `db:"owner_uuid"`
	PastOwners   string              `db:"past_owners"`
	Location     string              `db:"location"`
	Dimensions   string              `db:"dimensions"`
	Valuation    decimal.Decimal     `db:"valuation"`
	Description  string              `db:"description"`
	ParcelNumber string              `db:"parcel_number"`
	PlotNumber   string              `db:"plot_number"`
	TitleNumber  string              `db:"title_number"`
	IsListed     bool                `db:"is_listed"`
	ListingPrice decimal.NullDecimal `db:"listing_price"`
	ListedOn     sql.NullString      `db:"listed_on"`
	Documents    string              `db:"documents"`
	Images       string              `db:"images"`
	RegisteredAt string              `db:"registered_at"`
	LedgerSynced bool                `db:"ledger_synced"`
	Version      int64               `db:"version"`
}

const assetColumns = `uuid, type, owner, owner_uuid, past_owners, location, dimensions,
	valuation, description, parcel_number, plot_number, title_number, is_listed,
	listing_price, listed_on, documents, images, registered_at, ledger_synced, version`

func newAssetRow(a model.Asset) (assetRow, error) {
	row := assetRow{
		UUID:         a.UUID,
		Type:         string(a.Type),
		OwnerUUID:    a.Owner.UUID,
		Valuation:    a.Valuation,
		Description:  a.Description,
		ParcelNumber: a.ParcelNumber,
		PlotNumber:   a.PlotNumber,
		TitleNumber:  a.TitleNumber,
		IsListed:     a.IsListed,
		ListingPrice: a.ListingPrice,
		RegisteredAt: formatTime(a.RegisteredAt),
		LedgerSynced: a.LedgerSynced,
		Version:      a.Version,
	}
	if a.ListedOn != nil {
		row.ListedOn = sql.NullString{String: formatTime(*a.ListedOn), Valid: true}
	}

	var err error
	fields := []struct {
		dst *string
		src any
	}{
		{&row.Owner, a.Owner},
		{&row.PastOwners, nonNil(a.PastOwners)},
		{&row.Location, a.Location},
		{&row.Dimensions, a.Dimensions},
		{&row.Documents, nonNil(a.Documents)},
		{&row.Images, nonNil(a.Images)},
	}
	for _, f := range fields {
		if *f.dst, err = toJSON(f.src); err != nil {
			return assetRow{}, fmt.Errorf("encode asset %s: %w", a.UUID, err)
		}
	}
	return row, nil
}

func (r assetRow) model() (model.Asset, error) {
	a := model.Asset{
		UUID:         r.UUID,
		Type:         model.AssetType(r.Type),
		Valuation:    r.Valuation,
		Description:  r.Description,
		ParcelNumber: r.ParcelNumber,
		PlotNumber:   r.PlotNumber,
		TitleNumber:  r.TitleNumber,
		IsListed:     r.IsListed,
		ListingPrice: r.ListingPrice,
		LedgerSynced: r.LedgerSynced,
		Version:      r.Version,
	}

	var err error
	if a.RegisteredAt, err = parseTime(r.RegisteredAt); err != nil {
		return model.Asset{}, err
	}
	if r.ListedOn.Valid {
		t, err := parseTime(r.ListedOn.String)
		if err != nil {
			return model.Asset{}, err
		}
		a.ListedOn = &t
	}

	fields := []struct {
		src string
		dst any
	}{
		{r.Owner, &a.Owner},
		{r.PastOwners, &a.PastOwners},
		{r.Location, &a.Location},
		{r.Dimensions, &a.Dimensions},
		{r.Documents, &a.Documents},
		{r.Images, &a.Images},
	}
	for _, f := range fields {
		if err := fromJSON(f.src, f.dst); err != nil {
			return model.Asset{}, fmt.Errorf("decode asset %s: %w", r.UUID, err)
		}
	}
	return a, nil
}

type dealRow struct {
	UUID             string          `db:"uuid"`
	AssetUUID        string          `db:"asset_uuid"`
	Buyer            string          `db:"buyer"`
	BuyerUUID        string          `db:"buyer_uuid"`
	Seller           string          `db:"seller"`
	SellerUUID       string          `db:"seller_uuid"`
	ProposedPrice    decimal.Decimal `db:"proposed_price"`
	PaymentType      string          `db:"payment_type"`
	PaidAmount       decimal.Decimal `db:"paid_amount"`
	OriginalContract sql.NullString  `db:"original_contract"`
	SignedContract   sql.NullString  `db:"signed_contract"`
	CreatedAt        string          `db:"created_at"`
	Version          int64           `db:"version"`
}

const dealColumns = `uuid, asset_uuid, buyer, buyer_uuid, seller, seller_uuid, proposed_price,
	payment_type, paid_amount, original_contract, signed_contract, created_at, version`

func (r dealRow) model() (model.Deal, error) {
	d := model.Deal{
		UUID:          r.UUID,
		AssetUUID:     r.AssetUUID,
		ProposedPrice: r.ProposedPrice,
		PaymentType:   r.PaymentType,
		PaidAmount:    r.PaidAmount,
		Version:       r.Version,
	}
	var err error
	if d.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return model.Deal{}, err
	}
	if err := fromJSON(r.Buyer, &d.Buyer); err != nil {
		return model.Deal{}, fmt.Errorf("decode deal %s buyer: %w", r.UUID, err)
	}
	if err := fromJSON(r.Seller, &d.Seller); err != nil {
		return model.Deal{}, fmt.Errorf("decode deal %s seller: %w", r.UUID, err)
	}
	if d.OriginalContract, err = decodeDocument(r.OriginalContract); err != nil {
		return model.Deal{}, fmt.Errorf("decode deal %s contract: %w", r.UUID, err)
	}
	if d.SignedContract, err = decodeDocument(r.SignedContract); err != nil {
		return model.Deal{}, fmt.Errorf("decode deal %s contract: %w", r.UUID, err)
	}
	return d, nil
}

func decodeDocument(ns sql.NullString) (*model.Document, error) {
	if !ns.Valid {
		return nil, nil
	}
	var doc model.Document
	if err := fromJSON(ns.String, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

type citizenRow struct {
	UUID         string `db:"uuid"`
	FullName     string `db:"full_name"`
	NIDA         string `db:"nida"`
	PhoneNumber  string `db:"phone_number"`
	Email        string `db:"email"`
	Avatar       string `db:"avatar"`
	RegisteredAt string `db:"registered_at"`
}

const citizenColumns = `uuid, full_name, nida, phone_number, email, avatar, registered_at`

func (r citizenRow) model() (model.Citizen, error) {
	at, err := parseTime(r.RegisteredAt)
	if err != nil {
		return model.Citizen{}, err
	}
	return model.Citizen{
		UUID:         r.UUID,
		FullName:     r.FullName,
		NIDA:         r.NIDA,
		PhoneNumber:  r.PhoneNumber,
		Email:        r.Email,
		Avatar:       r.Avatar,
		RegisteredAt: at,
	}, nil
}

type stageRow struct {
	DealUUID string `db:"deal_uuid"`
	Seq      int    `db:"seq"`
	Name     string `db:"name"`
	Date     string `db:"date"`
	Metadata string `db:"metadata"`
}

func (r stageRow) model() (model.Stage, error) {
	st := model.Stage{Seq: r.Seq, Name: model.StageName(r.Name)}
	var err error
	if st.Date, err = parseTime(r.Date); err != nil {
		return model.Stage{}, err
	}
	if err := fromJSON(r.Metadata, &st.Metadata); err != nil {
		return model.Stage{}, fmt.Errorf("decode stage %s/%d: %w", r.DealUUID, r.Seq, err)
	}
	if len(st.Metadata) == 0 {
		st.Metadata = nil
	}
	return st, nil
}

type messageRow struct {
	DealUUID  string `db:"deal_uuid"`
	ID        string `db:"id"`
	Text      string `db:"text"`
	Sender    string `db:"sender"`
	CreatedAt string `db:"created_at"`
}

func (r messageRow) model() (model.Message, error) {
	m := model.Message{ID: r.ID, Text: r.Text}
	var err error
	if m.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return model.Message{}, err
	}
	if err := fromJSON(r.Sender, &m.Sender); err != nil {
		return model.Message{}, fmt.Errorf("decode message %s: %w", r.ID, err)
	}
	return m, nil
}

type documentRow struct {
	DealUUID   string `db:"deal_uuid"`
	ID         string `db:"id"`
	Name       string `db:"name"`
	URL        string `db:"url"`
	Kind       string `db:"kind"`
	AttachedAt string `db:"attached_at"`
}

type transferRow struct {
	DealUUID  string `db:"deal_uuid"`
	AssetUUID string `db:"asset_uuid"`
	From      string `db:"from_party"`
	To        string `db:"to_party"`
	Status    string `db:"status"`
	Attempts  int    `db:"attempts"`
	LastError string `db:"last_error"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

const transferColumns = `deal_uuid, asset_uuid, from_party, to_party, status, attempts,
	last_error, created_at, updated_at`

func (r transferRow) model() (model.Transfer, error) {
	t := model.Transfer{
		DealUUID:  r.DealUUID,
		AssetUUID: r.AssetUUID,
		Status:    model.TransferStatus(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
	}
	var err error
	if t.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return model.Transfer{}, err
	}
	if t.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return model.Transfer{}, err
	}
	if err := fromJSON(r.From, &t.From); err != nil {
		return model.Transfer{}, fmt.Errorf("decode transfer %s: %w", r.DealUUID, err)
	}
	if err := fromJSON(r.To, &t.To); err != nil {
		return model.Transfer{}, fmt.Errorf("decode transfer %s: %w", r.DealUUID, err)
	}
	return t, nil
}

// nonNil keeps empty lists as [] rather than null in JSON columns.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
