package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/model"
)

func newTestGateway(t *testing.T, peers int) *Gateway {
	t.Helper()
	g, err := Open(Options{Peers: peers, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func testFacts(uuid, owner string) model.Facts {
	return model.Facts{
		UUID:         uuid,
		Type:         "LAND",
		OwnerUUID:    owner,
		ParcelNumber: "P-1",
		PlotNumber:   "PL-1",
		TitleNumber:  "T-1",
	}
}

func TestCreateAsset_ThenExists(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 3)

	ok, err := g.AssetExists(ctx, "a-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.CreateAsset(ctx, "create:a-1", testFacts("a-1", "o-1")))

	ok, err = g.AssetExists(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := g.ReadAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t,
		`{"ownerUUID":"o-1","parcelNumber":"P-1","plotNumber":"PL-1","titleNumber":"T-1","type":"LAND","uuid":"a-1"}`,
		string(data))
}

func TestCreateAsset_DuplicateLeavesValueUnchanged(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 2)

	require.NoError(t, g.CreateAsset(ctx, "tx-1", testFacts("a-1", "o-1")))
	before, err := g.ReadAsset(ctx, "a-1")
	require.NoError(t, err)

	err = g.CreateAsset(ctx, "tx-2", testFacts("a-1", "o-9"))
	assert.True(t, apperr.IsAlreadyExists(err), "got %v", err)

	after, err := g.ReadAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReadAsset_Missing(t *testing.T) {
	g := newTestGateway(t, 1)
	_, err := g.ReadAsset(context.Background(), "nope")
	assert.True(t, apperr.IsNotFound(err))
}

func TestUpdateAsset_OverwritesWithoutMerge(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 2)

	err := g.UpdateAsset(ctx, "u-0", testFacts("a-1", "o-1"))
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	for _, p := range g.Peers() {
		require.NoError(t, p.PutRaw("a-1", []byte(`{"extra":"x","ownerUUID":"o-1","uuid":"a-1"}`)))
	}

	updated := testFacts("a-1", "o-1")
	updated.TitleNumber = "T-2"
	require.NoError(t, g.UpdateAsset(ctx, "u-1", updated))

	data, err := g.ReadAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "extra")
	f, err := DecodeFacts(data)
	require.NoError(t, err)
	assert.Equal(t, updated, f)
}

func TestDeleteAsset(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 2)

	err := g.DeleteAsset(ctx, "d-0", "a-1")
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	require.NoError(t, g.DeleteAsset(ctx, "d-1", "a-1"))

	ok, err := g.AssetExists(ctx, "a-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransferAsset(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 3)

	_, err := g.TransferAsset(ctx, "deal-0", "missing", "o-2")
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	res, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)
	assert.Equal(t, "o-1", res.PreviousOwner)
	assert.False(t, res.Replayed)

	data, err := g.ReadAsset(ctx, "a-1")
	require.NoError(t, err)
	f, err := DecodeFacts(data)
	require.NoError(t, err)
	assert.Equal(t, "o-2", f.OwnerUUID)
}

func TestTransferAsset_PreservesUnknownFields(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 2)

	for _, p := range g.Peers() {
		require.NoError(t, p.PutRaw("a-1", []byte(`{"uuid":"a-1","ownerUUID":"o-1","zone":{"b":"2","a":"1"}}`)))
	}

	_, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)

	data, err := g.ReadAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, `{"ownerUUID":"o-2","uuid":"a-1","zone":{"a":"1","b":"2"}}`, string(data))
}

func TestTransferAsset_ReplayIsNotReapplied(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 2)

	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	first, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)
	height, err := g.Height()
	require.NoError(t, err)

	again, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.PreviousOwner, again.PreviousOwner)
	assert.Equal(t, first.Height, again.Height)

	after, err := g.Height()
	require.NoError(t, err)
	assert.Equal(t, height, after)
}

func TestSubmit_ReusedTxIDForDifferentProposal(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 1)

	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	_, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)

	_, err = g.TransferAsset(ctx, "deal-1", "a-1", "o-3")
	assert.True(t, apperr.IsConflict(err), "got %v", err)
}

func TestSubmit_FailedProposalDoesNotConsumeTxID(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 1)

	_, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.True(t, apperr.IsNotFound(err))

	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	res, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "o-1", res.PreviousOwner)
}

func TestSubmit_EndorsementMismatchLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 3)

	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	// peer2 drifts: same facts, different owner.
	drifted, err := EncodeFacts(testFacts("a-1", "o-x"))
	require.NoError(t, err)
	require.NoError(t, g.Peers()[2].PutRaw("a-1", drifted))

	before, err := g.Peers()[0].Hash()
	require.NoError(t, err)
	height, err := g.Height()
	require.NoError(t, err)

	_, err = g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	assert.Equal(t, apperr.KindLedgerUnavailable, apperr.KindOf(err))
	assert.True(t, apperr.Retryable(err))

	after, err := g.Peers()[0].Hash()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	h, err := g.Height()
	require.NoError(t, err)
	assert.Equal(t, height, h)
}

func TestSubmit_CancelledContextIsTimeout(t *testing.T) {
	g := newTestGateway(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1"))
	assert.Equal(t, apperr.KindLedgerTimeout, apperr.KindOf(err))

	ok, err := g.AssetExists(context.Background(), "a-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmit_WaitsForLockUntilDeadline(t *testing.T) {
	g := newTestGateway(t, 1)
	g.mu.Lock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1"))
	assert.Equal(t, apperr.KindLedgerTimeout, apperr.KindOf(err))

	g.mu.Unlock()
	require.NoError(t, g.CreateAsset(context.Background(), "c-1", testFacts("a-1", "o-1")))
}

func TestSubmit_RejectsReadOnlyAndMissingTxID(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 1)

	_, err := g.Submit(ctx, Proposal{TxID: "t", Fn: FnReadAsset, Args: []string{"a-1"}})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = g.Submit(ctx, Proposal{Fn: FnDeleteAsset, Args: []string{"a-1"}})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = g.Evaluate(ctx, FnTransferAsset, "a-1", "o-2")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestScan_CorruptValueSurfacesRaw(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 2)

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, g.CreateAsset(ctx, "create:"+id, testFacts(id, "o-1")))
	}
	for _, p := range g.Peers() {
		require.NoError(t, p.PutRaw("a-2", []byte("not json")))
	}

	var keys []string
	var corrupt []Entry
	for key, e := range g.Scan(ctx) {
		keys = append(keys, key)
		if e.Corrupt() {
			corrupt = append(corrupt, e)
			continue
		}
		f, ok := e.Facts()
		require.True(t, ok)
		assert.Equal(t, key, f.UUID)
	}
	assert.Equal(t, []string{"a-1", "a-2", "a-3"}, keys)
	require.Len(t, corrupt, 1)
	assert.Equal(t, "not json", corrupt[0].Raw)

	data, err := g.GetAllAssets(ctx)
	require.NoError(t, err)
	var all []any
	require.NoError(t, json.Unmarshal(data, &all))
	require.Len(t, all, 3)
	assert.Equal(t, "not json", all[1])
	assert.IsType(t, map[string]any{}, all[0])
}

func TestScan_StopsEarly(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 1)
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, g.CreateAsset(ctx, "create:"+id, testFacts(id, "o-1")))
	}

	n := 0
	for range g.Scan(ctx) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestStateHashes_PeersAgree(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 3)

	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	_, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)

	hashes, err := g.StateHashes()
	require.NoError(t, err)
	require.Len(t, hashes, 3)
	assert.Equal(t, hashes["peer0"], hashes["peer1"])
	assert.Equal(t, hashes["peer0"], hashes["peer2"])
}

func TestSubscribe_ReceivesCommits(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 1)

	events, unsubscribe := g.Subscribe(4)
	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))

	select {
	case ev := <-events:
		assert.Equal(t, Event{TxID: "c-1", Fn: FnCreateAsset, Key: "a-1", Height: 1}, ev)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestReceipts_SurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	g, err := Open(Options{Dir: dir, Peers: 2, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	_, err = g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)
	require.NoError(t, g.Close())

	g, err = Open(Options{Dir: dir, Peers: 2, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer g.Close()

	res, err := g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "o-1", res.PreviousOwner)

	rec, ok, err := g.Receipt("deal-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FnTransferAsset, rec.Fn)
	assert.Equal(t, uint64(2), rec.Height)
}

func TestSubmit_FailedPeerCommitRollsBackEarlierPeers(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, 3)
	require.NoError(t, g.CreateAsset(ctx, "c-1", testFacts("a-1", "o-1")))
	before, err := g.Height()
	require.NoError(t, err)

	// Reads still endorse on the last peer; its write fails.
	require.NoError(t, g.Peers()[2].db.SetReadOnly())

	_, err = g.TransferAsset(ctx, "deal-1", "a-1", "o-2")
	require.True(t, apperr.Is(err, apperr.KindLedgerUnavailable), "got %v", err)

	for _, p := range g.Peers() {
		v, err := p.Get("a-1")
		require.NoError(t, err)
		f, err := DecodeFacts(v)
		require.NoError(t, err)
		assert.Equal(t, "o-1", f.OwnerUUID, p.Name())

		h, err := p.Height()
		require.NoError(t, err)
		assert.Equal(t, before, h, p.Name())

		_, found, err := p.Receipt("deal-1")
		require.NoError(t, err)
		assert.False(t, found, p.Name())
	}

	hashes, err := g.StateHashes()
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, h := range hashes {
		seen[h] = true
	}
	assert.Len(t, seen, 1)
}
