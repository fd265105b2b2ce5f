package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StageName names a step in a deal's negotiation.
type StageName string

const (
	StageOffer       StageName = "OFFER"
	StageNegotiation StageName = "NEGOTIATION"
	StageInspection  StageName = "INSPECTION"
	StageValuation   StageName = "VALUATION"
	StageContract    StageName = "CONTRACT"
	StagePayment     StageName = "PAYMENT"
	StageCompleted   StageName = "COMPLETED"
	StageCancelled   StageName = "CANCELLED"
)

// IsTerminal reports whether no stage may follow s.
func (s StageName) IsTerminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// IsIntermediate reports whether s is a review stage between the opening
// offer and a terminal stage.
func (s StageName) IsIntermediate() bool {
	switch s {
	case StageNegotiation, StageInspection, StageValuation, StageContract, StagePayment:
		return true
	}
	return false
}

// Stage is one immutable entry of a deal's stage log.
type Stage struct {
	Seq      int               `json:"seq"`
	Name     StageName         `json:"name"`
	Date     time.Time         `json:"date"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Message is one chat line between the parties of a deal.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Party     `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// Deal is a negotiation over one asset.
type Deal struct {
	UUID             string          `json:"uuid"`
	AssetUUID        string          `json:"assetUUID"`
	Buyer            Party           `json:"buyer"`
	Seller           Party           `json:"seller"`
	ProposedPrice    decimal.Decimal `json:"proposedPrice"`
	PaymentType      string          `json:"paymentType,omitempty"`
	PaidAmount       decimal.Decimal `json:"paidAmount"`
	Stages           []Stage         `json:"stages"`
	Messages         []Message       `json:"messages"`
	Documents        []Document      `json:"documents"`
	OriginalContract *Document       `json:"originalContract,omitempty"`
	SignedContract   *Document       `json:"signedContract,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	Version          int64           `json:"version"`
}

// LastStage returns the most recent stage. Deals always have at least the
// opening offer, so ok is false only for a zero Deal.
func (d Deal) LastStage() (Stage, bool) {
	if len(d.Stages) == 0 {
		return Stage{}, false
	}
	return d.Stages[len(d.Stages)-1], true
}

// HasStage reports whether name appears in the stage log.
func (d Deal) HasStage(name StageName) bool {
	for _, s := range d.Stages {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Terminal reports whether the deal has reached a terminal stage.
func (d Deal) Terminal() bool {
	last, ok := d.LastStage()
	return ok && last.Name.IsTerminal()
}

// ContractKind selects which contract slot a document fills.
type ContractKind string

const (
	ContractOriginal ContractKind = "original"
	ContractSigned   ContractKind = "signed"
)

// TransferStatus tracks a transfer intent through the two stores.
type TransferStatus string

const (
	// TransferRegistryApplied: the relational owner changed; the ledger
	// transfer is outstanding.
	TransferRegistryApplied TransferStatus = "registry_applied"

	// TransferLedgerCommitted: both stores reflect the new owner.
	TransferLedgerCommitted TransferStatus = "ledger_committed"
)

// Transfer is the durable intent to move an asset to a deal's buyer. Its key
// is the deal UUID, which doubles as the ledger transaction ID.
type Transfer struct {
	DealUUID  string         `json:"dealUUID"`
	AssetUUID string         `json:"assetUUID"`
	From      Party          `json:"from"`
	To        Party          `json:"to"`
	Status    TransferStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"lastError,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
