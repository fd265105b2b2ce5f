package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/testutil"
)

func testTransfer() model.Transfer {
	return model.Transfer{
		DealUUID:  "d-1",
		AssetUUID: "a-1",
		From:      model.Party{UUID: "o-1", FullName: "Owner o-1"},
		To:        model.Party{UUID: "o-2", FullName: "Buyer o-2"},
		Status:    model.TransferRegistryApplied,
		CreatedAt: testutil.Epoch,
	}
}

func TestApplyTransfer_MovesOwnerAndRecordsIntent(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDeal(t)

	tr, applied, err := s.ApplyTransfer(ctx, testTransfer())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.TransferRegistryApplied, tr.Status)

	a, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "o-2", a.Owner.UUID)
	require.Len(t, a.PastOwners, 1)
	assert.Equal(t, "o-1", a.PastOwners[0].UUID)

	got, err := s.GetTransfer(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, "o-2", got.To.UUID)
	assert.True(t, testutil.Epoch.Equal(got.UpdatedAt))
}

func TestApplyTransfer_SecondCallFindsIntent(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDeal(t)

	_, _, err := s.ApplyTransfer(ctx, testTransfer())
	require.NoError(t, err)

	again, applied, err := s.ApplyTransfer(ctx, testTransfer())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "d-1", again.DealUUID)

	a, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Len(t, a.PastOwners, 1, "owner history must not grow on re-entry")
}

func TestApplyTransfer_OwnerMismatchRollsBack(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDeal(t)

	tr := testTransfer()
	tr.From.UUID = "o-9"
	_, _, err := s.ApplyTransfer(ctx, tr)
	assert.True(t, apperr.IsConflict(err))

	_, err = s.GetTransfer(ctx, "d-1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestTransferStatusUpdates(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDeal(t)
	_, _, err := s.ApplyTransfer(ctx, testTransfer())
	require.NoError(t, err)

	require.NoError(t, s.RecordTransferAttempt(ctx, "d-1", "LEDGER_TIMEOUT", testutil.Epoch.Add(time.Second)))
	pending, err := s.ListTransfers(ctx, model.TransferRegistryApplied)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "LEDGER_TIMEOUT", pending[0].LastError)

	require.NoError(t, s.MarkTransferCommitted(ctx, "d-1", testutil.Epoch.Add(2*time.Second)))
	pending, err = s.ListTransfers(ctx, model.TransferRegistryApplied)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := s.ListTransfers(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.TransferLedgerCommitted, all[0].Status)
	assert.Equal(t, 2, all[0].Attempts)
	assert.Empty(t, all[0].LastError)

	assert.True(t, apperr.IsNotFound(s.MarkTransferCommitted(ctx, "missing", testutil.Epoch)))
}

func TestRecordTransfer_InsertsOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDeal(t)

	tr := testTransfer()
	tr.Status = model.TransferLedgerCommitted
	inserted, err := s.RecordTransfer(ctx, tr)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.RecordTransfer(ctx, tr)
	require.NoError(t, err)
	assert.False(t, inserted)

	a, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", a.Owner.UUID, "recording an intent leaves the asset alone")
	assert.Empty(t, a.PastOwners)
}

func completedStage(seq int) model.Stage {
	return model.Stage{Seq: seq, Name: model.StageCompleted, Date: testutil.Epoch.Add(time.Hour)}
}

func TestCompleteSale_CancelsOtherOpenDeals(t *testing.T) {
	ctx := context.Background()
	s, d := setupDeal(t)
	require.NoError(t, s.InsertDeal(ctx, createTestDeal("d-2", "a-1", "o-3", testutil.Epoch.Add(time.Second))))
	require.NoError(t, s.InsertDeal(ctx, createTestDeal("d-3", "a-1", "o-4", testutil.Epoch.Add(2*time.Second))))
	_, err := s.AppendStage(ctx, "d-3", 1, model.Stage{Seq: 2, Name: model.StageCancelled, Date: testutil.Epoch})
	require.NoError(t, err)

	v, cancelled, err := s.CompleteSale(ctx, d.Version, completedStage(2), testTransfer())
	require.NoError(t, err)
	assert.Equal(t, d.Version+1, v)
	assert.Equal(t, []string{"d-2"}, cancelled, "already-ended deals are left alone")

	a, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "o-2", a.Owner.UUID)
	assert.False(t, a.IsListed)

	d2, err := s.GetDeal(ctx, "d-2")
	require.NoError(t, err)
	last, _ := d2.LastStage()
	assert.Equal(t, model.StageCancelled, last.Name)
	assert.Equal(t, "d-1", last.Metadata["soldBy"])
	assert.Equal(t, int64(2), d2.Version)

	pending, err := s.HasPendingTransfer(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, pending)
	require.NoError(t, s.MarkTransferCommitted(ctx, "d-1", testutil.Epoch))
	pending, err = s.HasPendingTransfer(ctx, "a-1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestCompleteSale_SellerMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, d := setupDeal(t)

	tr := testTransfer()
	tr.From.UUID = "o-9"
	_, _, err := s.CompleteSale(ctx, d.Version, completedStage(2), tr)
	assert.True(t, apperr.IsConflict(err))

	got, err := s.GetDeal(ctx, "d-1")
	require.NoError(t, err)
	assert.Len(t, got.Stages, 1, "the COMPLETED stage rolls back with the owner change")
	assert.Equal(t, d.Version, got.Version)
	_, err = s.GetTransfer(ctx, "d-1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCompleteSale_StaleDealVersion(t *testing.T) {
	ctx := context.Background()
	s, d := setupDeal(t)

	_, _, err := s.CompleteSale(ctx, d.Version+5, completedStage(2), testTransfer())
	assert.True(t, apperr.IsConflict(err))

	a, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", a.Owner.UUID)
}

func TestCompleteSale_RegistryAlreadyShowsBuyer(t *testing.T) {
	ctx := context.Background()
	s, d := setupDeal(t)
	_, err := s.ForwardOwner(ctx, "a-1", "o-1", model.Party{UUID: "o-2"})
	require.NoError(t, err)

	_, _, err = s.CompleteSale(ctx, d.Version, completedStage(2), testTransfer())
	require.NoError(t, err)

	a, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "o-2", a.Owner.UUID)
	assert.Len(t, a.PastOwners, 1, "no second owner change")
	_, err = s.GetTransfer(ctx, "d-1")
	require.NoError(t, err)
}
