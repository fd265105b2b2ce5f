package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/testutil"
)

// createTestStore opens a fresh SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestAsset builds an unlisted asset owned by owner.
func createTestAsset(uuid, owner string) model.Asset {
	return model.Asset{
		UUID:  uuid,
		Type:  model.AssetLand,
		Owner: model.Party{UUID: owner, FullName: "Owner " + owner},
		Location: model.Location{
			LocationName: "Mbezi",
			Latitude:     decimal.RequireFromString("-6.7235"),
			Longitude:    decimal.RequireFromString("39.2083"),
		},
		Dimensions:   model.Dimensions{Value: decimal.NewFromInt(600), Unit: model.DefaultAreaUnit},
		Valuation:    decimal.RequireFromString("150000000.00"),
		ParcelNumber: "P-" + uuid,
		PlotNumber:   "PL-" + uuid,
		TitleNumber:  "T-" + uuid,
		RegisteredAt: testutil.Epoch,
		Version:      1,
	}
}

// createTestDeal builds a deal with its opening offer.
func createTestDeal(uuid, assetUUID, buyer string, at time.Time) model.Deal {
	return model.Deal{
		UUID:          uuid,
		AssetUUID:     assetUUID,
		Buyer:         model.Party{UUID: buyer, FullName: "Buyer " + buyer},
		ProposedPrice: decimal.NewFromInt(100),
		PaymentType:   "cash",
		PaidAmount:    decimal.Zero,
		Stages: []model.Stage{{
			Seq:      1,
			Name:     model.StageOffer,
			Date:     at,
			Metadata: map[string]string{"proposedPrice": "100", "paymentType": "cash"},
		}},
		CreatedAt: at,
		Version:   1,
	}
}
