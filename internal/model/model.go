// Package model holds the relational entities shared by the registry, the
// deal workflow and the transfer coordinator.
package model

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// AssetType classifies a property.
type AssetType string

const (
	AssetLand       AssetType = "LAND"
	AssetHouse      AssetType = "HOUSE"
	AssetApartment  AssetType = "APARTMENT"
	AssetCommercial AssetType = "COMMERCIAL"
	AssetFarm       AssetType = "FARM"
)

// Valid reports whether t is a known asset type.
func (t AssetType) Valid() bool {
	switch t {
	case AssetLand, AssetHouse, AssetApartment, AssetCommercial, AssetFarm:
		return true
	}
	return false
}

// DefaultAreaUnit is used when a payload omits the unit.
const DefaultAreaUnit = "square meter"

// Party identifies a person by identity plus profile fields. Only UUID takes
// part in ledger facts.
type Party struct {
	UUID        string `json:"uuid" validate:"required"`
	FullName    string `json:"fullName"`
	NIDA        string `json:"nida,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Location is where an asset sits. Coordinates are decimal to avoid float
// drift between writes.
type Location struct {
	LocationName   string          `json:"locationName" validate:"required"`
	NearbyLocation string          `json:"nearbyLocation,omitempty"`
	Latitude       decimal.Decimal `json:"latitude"`
	Longitude      decimal.Decimal `json:"longitude"`
}

// Dimensions is an area measurement.
type Dimensions struct {
	Value decimal.Decimal `json:"value"`
	Unit  string          `json:"unit"`
}

// Document is a reference to a stored file (deed scan, survey, contract).
type Document struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
	Kind string `json:"kind,omitempty"`
}

// Asset is the full relational record of a property. The ledger mirrors a
// subset of it; see Facts.
type Asset struct {
	UUID         string              `json:"uuid"`
	Type         AssetType           `json:"type"`
	Owner        Party               `json:"owner"`
	PastOwners   []Party             `json:"pastOwners"`
	Location     Location            `json:"location"`
	Dimensions   Dimensions          `json:"dimensions"`
	Valuation    decimal.Decimal     `json:"valuation"`
	Description  string              `json:"description,omitempty"`
	ParcelNumber string              `json:"parcelNumber"`
	PlotNumber   string              `json:"plotNumber"`
	TitleNumber  string              `json:"titleNumber"`
	IsListed     bool                `json:"isListed"`
	ListingPrice decimal.NullDecimal `json:"listingPrice"`
	ListedOn     *time.Time          `json:"listedOn,omitempty"`
	Documents    []Document          `json:"documents"`
	Images       []string            `json:"images"`
	RegisteredAt time.Time           `json:"registeredAt"`
	LedgerSynced bool                `json:"ledgerSynced"`
	Version      int64               `json:"version"`
}

// Facts is the consensus-critical subset of an asset mirrored to the ledger.
type Facts struct {
	UUID         string
	Type         string
	OwnerUUID    string
	ParcelNumber string
	PlotNumber   string
	TitleNumber  string
}

// Facts derives the ledger fact set from the asset.
func (a Asset) Facts() Facts {
	return Facts{
		UUID:         a.UUID,
		Type:         string(a.Type),
		OwnerUUID:    a.Owner.UUID,
		ParcelNumber: a.ParcelNumber,
		PlotNumber:   a.PlotNumber,
		TitleNumber:  a.TitleNumber,
	}
}

// Normalized returns f with every field in Unicode NFC, the form the ledger
// stores. Two fact sets are only comparable once both are normalized.
func (f Facts) Normalized() Facts {
	return Facts{
		UUID:         norm.NFC.String(f.UUID),
		Type:         norm.NFC.String(f.Type),
		OwnerUUID:    norm.NFC.String(f.OwnerUUID),
		ParcelNumber: norm.NFC.String(f.ParcelNumber),
		PlotNumber:   norm.NFC.String(f.PlotNumber),
		TitleNumber:  norm.NFC.String(f.TitleNumber),
	}
}

// HasPastOwner reports whether uuid appears in the ownership history.
func (a Asset) HasPastOwner(uuid string) bool {
	for _, p := range a.PastOwners {
		if p.UUID == uuid {
			return true
		}
	}
	return false
}

// Citizen is an entry in the citizen directory. A Party's UUID resolves to
// one when the directory is in use.
type Citizen struct {
	UUID         string    `json:"uuid"`
	FullName     string    `json:"fullName"`
	NIDA         string    `json:"nida"`
	PhoneNumber  string    `json:"phoneNumber"`
	Email        string    `json:"email,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Party returns the profile a deal or asset carries for c.
func (c Citizen) Party() Party {
	return Party{
		UUID:        c.UUID,
		FullName:    c.FullName,
		NIDA:        c.NIDA,
		PhoneNumber: c.PhoneNumber,
		Avatar:      c.Avatar,
	}
}
