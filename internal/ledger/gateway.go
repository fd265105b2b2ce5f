package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/canon"
	"github.com/roach88/titlechain/internal/observability"
)

// DefaultReceiptCache is the receipt cache size when Options leaves it zero.
const DefaultReceiptCache = 1024

// Options configures Open.
type Options struct {
	Dir           string        // parent directory for peer databases; empty keeps peers in memory
	Peers         int           // number of endorsing peers; zero means 1
	SubmitTimeout time.Duration // applied to Submit when positive
	ReceiptCache  int
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

// Proposal is a transaction submitted to the gateway. TxID is the
// idempotency token: a committed TxID is never applied twice.
type Proposal struct {
	TxID string
	Fn   string
	Args []string
}

// Outcome is the result of a committed (or replayed) proposal.
type Outcome struct {
	TxID     string
	Result   string
	Height   uint64
	Replayed bool
}

// Event announces a commit to subscribers.
type Event struct {
	TxID   string `json:"txId"`
	Fn     string `json:"fn"`
	Key    string `json:"key"`
	Height uint64 `json:"height"`
}

// Gateway endorses proposals on every peer and commits agreed write sets.
type Gateway struct {
	peers         []*State
	contract      Contract
	submitTimeout time.Duration
	log           zerolog.Logger
	metrics       *observability.Metrics

	// mu orders commits. Endorsement runs under it too so every peer
	// simulates against the same committed height.
	mu       sync.Mutex
	receipts *lru.Cache[string, Receipt]

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// Open creates peer states and a gateway over them.
func Open(opts Options) (*Gateway, error) {
	n := opts.Peers
	if n <= 0 {
		n = 1
	}
	size := opts.ReceiptCache
	if size <= 0 {
		size = DefaultReceiptCache
	}
	cache, err := lru.New[string, Receipt](size)
	if err != nil {
		return nil, fmt.Errorf("receipt cache: %w", err)
	}

	g := &Gateway{
		submitTimeout: opts.SubmitTimeout,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		receipts:      cache,
		subs:          make(map[int]chan Event),
	}
	for i := range n {
		name := fmt.Sprintf("peer%d", i)
		path := ""
		if opts.Dir != "" {
			path = filepath.Join(opts.Dir, name)
		}
		st, err := OpenState(name, path)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.peers = append(g.peers, st)
	}
	return g, nil
}

// Close releases peer databases and ends subscriptions.
func (g *Gateway) Close() error {
	g.subMu.Lock()
	for id, ch := range g.subs {
		close(ch)
		delete(g.subs, id)
	}
	g.subMu.Unlock()

	var first error
	for _, p := range g.peers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Peers exposes peer states for inspection (hashes, raw repair).
func (g *Gateway) Peers() []*State {
	return g.peers
}

// Submit endorses p on every peer, then commits it everywhere. Endorsement
// requires byte-identical write sets and results. Nothing is written when
// endorsement fails or ctx ends before commit.
func (g *Gateway) Submit(ctx context.Context, p Proposal) (Outcome, error) {
	const op = "ledger.Submit"
	start := time.Now()

	if g.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.submitTimeout)
		defer cancel()
	}

	out, err := g.submit(ctx, p)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	case out.Replayed:
		outcome = "replayed"
	}
	g.metrics.LedgerSubmission(p.Fn, outcome, time.Since(start))

	if err != nil {
		g.log.Warn().Err(err).Str("tx", p.TxID).Str("fn", p.Fn).Str("op", op).Msg("submission failed")
		return Outcome{}, err
	}
	g.log.Debug().
		Str("tx", p.TxID).
		Str("fn", p.Fn).
		Uint64("height", out.Height).
		Bool("replayed", out.Replayed).
		Msg("submission committed")
	return out, nil
}

func (g *Gateway) submit(ctx context.Context, p Proposal) (Outcome, error) {
	const op = "ledger.Submit"

	if p.TxID == "" {
		return Outcome{}, apperr.New(apperr.KindInvalid, op, p.Fn, "transaction id is required")
	}
	if readOnly[p.Fn] {
		return Outcome{}, apperr.New(apperr.KindInvalid, op, p.TxID, "%s is read-only; use Evaluate", p.Fn)
	}
	hash, err := canon.ProposalHash(p.Fn, p.Args)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.KindInvalid, op, p.TxID, err)
	}

	if err := g.lock(ctx); err != nil {
		return Outcome{}, err
	}
	defer g.mu.Unlock()

	rec, found, err := g.lookupReceipt(p.TxID)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.KindLedgerUnavailable, op, p.TxID, err)
	}
	if found {
		if rec.ProposalHash != hash {
			return Outcome{}, apperr.New(apperr.KindConflict, op, p.TxID,
				"transaction id already used for a different %s proposal", rec.Fn)
		}
		return Outcome{TxID: p.TxID, Result: rec.Result, Height: rec.Height, Replayed: true}, nil
	}

	ws, result, err := g.endorse(p)
	if err != nil {
		return Outcome{}, err
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, apperr.Wrap(apperr.KindLedgerTimeout, op, p.TxID, err)
	}

	height, err := g.peers[0].Height()
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.KindLedgerUnavailable, op, p.TxID, err)
	}
	rec = Receipt{TxID: p.TxID, Fn: p.Fn, ProposalHash: hash, Result: result, Height: height + 1}
	undo := make([]*leveldb.Batch, 0, len(g.peers))
	for i, peer := range g.peers {
		u, err := peer.commit(ws, rec)
		if err != nil {
			g.rollback(p.TxID, undo)
			g.log.Error().Err(err).Str("tx", p.TxID).Str("peer", g.peers[i].Name()).Msg("commit failed; earlier peers rolled back")
			return Outcome{}, apperr.Wrap(apperr.KindLedgerUnavailable, op, p.TxID, err)
		}
		undo = append(undo, u)
	}
	g.receipts.Add(p.TxID, rec)

	key := ""
	if len(p.Args) > 0 {
		key = p.Args[0]
	}
	g.publish(Event{TxID: p.TxID, Fn: p.Fn, Key: key, Height: rec.Height})

	return Outcome{TxID: p.TxID, Result: result, Height: rec.Height}, nil
}

// rollback reverts a transaction on the peers that committed it before a
// later peer failed. A peer that cannot be reverted stays ahead of the
// others and shows up in StateHashes.
func (g *Gateway) rollback(txID string, undo []*leveldb.Batch) {
	for i, u := range undo {
		if err := g.peers[i].rollback(u); err != nil {
			g.log.Error().Err(err).Str("tx", txID).Str("peer", g.peers[i].Name()).Msg("rollback failed")
		}
	}
}

// endorse simulates p on every peer and checks they agree. A contract error
// is returned as-is when every peer reports the same one.
func (g *Gateway) endorse(p Proposal) (WriteSet, string, error) {
	const op = "ledger.endorse"

	var (
		firstWS    WriteSet
		firstBytes []byte
		firstRes   string
		firstErr   error
	)
	for i, peer := range g.peers {
		stub := NewStub(peer)
		res, invokeErr := g.contract.Invoke(stub, p.Fn, p.Args)
		ws := stub.WriteSet()
		wsBytes, err := ws.Bytes()
		if err != nil {
			return nil, "", apperr.Wrap(apperr.KindLedgerUnavailable, op, p.TxID, err)
		}

		if i == 0 {
			firstWS, firstBytes, firstRes, firstErr = ws, wsBytes, res, invokeErr
			continue
		}
		if !sameError(firstErr, invokeErr) || !equalEndorsement(firstBytes, wsBytes, firstRes, res) {
			return nil, "", apperr.New(apperr.KindLedgerUnavailable, op, p.TxID,
				"endorsement mismatch between %s and %s", g.peers[0].Name(), peer.Name())
		}
	}
	if firstErr != nil {
		if apperr.KindOf(firstErr) == "" {
			return nil, "", apperr.Wrap(apperr.KindLedgerUnavailable, op, p.TxID, firstErr)
		}
		return nil, "", firstErr
	}
	return firstWS, firstRes, nil
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return apperr.KindOf(a) == apperr.KindOf(b) && a.Error() == b.Error()
}

// Evaluate runs a read-only function on the first peer without committing.
func (g *Gateway) Evaluate(ctx context.Context, fn string, args ...string) (string, error) {
	const op = "ledger.Evaluate"
	if !readOnly[fn] {
		return "", apperr.New(apperr.KindInvalid, op, fn, "%s writes state; use Submit", fn)
	}
	if err := ctx.Err(); err != nil {
		return "", apperr.Wrap(apperr.KindLedgerTimeout, op, fn, err)
	}
	res, err := g.contract.Invoke(NewStub(g.peers[0]), fn, args)
	if err != nil && apperr.KindOf(err) == "" {
		return "", apperr.Wrap(apperr.KindLedgerUnavailable, op, fn, err)
	}
	return res, err
}

// Receipt returns the committed receipt for txID, if any.
func (g *Gateway) Receipt(txID string) (Receipt, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookupReceipt(txID)
}

// Height returns the committed height.
func (g *Gateway) Height() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peers[0].Height()
}

// StateHashes returns each peer's state hash keyed by peer name.
func (g *Gateway) StateHashes() (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]string, len(g.peers))
	for _, p := range g.peers {
		h, err := p.Hash()
		if err != nil {
			return nil, err
		}
		out[p.Name()] = h
	}
	return out, nil
}

// Subscribe registers for commit events. Events that do not fit in the
// buffer are dropped for that subscriber. The returned func unsubscribes.
func (g *Gateway) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch
	g.subMu.Unlock()

	return ch, func() {
		g.subMu.Lock()
		defer g.subMu.Unlock()
		if c, ok := g.subs[id]; ok {
			close(c)
			delete(g.subs, id)
		}
	}
}

func (g *Gateway) publish(ev Event) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	for _, ch := range g.subs {
		select {
		case ch <- ev:
		default:
			g.log.Debug().Str("tx", ev.TxID).Msg("dropped event for slow subscriber")
		}
	}
}

// lookupReceipt checks the cache before the first peer's receipt log. Caller
// holds mu.
func (g *Gateway) lookupReceipt(txID string) (Receipt, bool, error) {
	if rec, ok := g.receipts.Get(txID); ok {
		return rec, true, nil
	}
	rec, ok, err := g.peers[0].Receipt(txID)
	if err != nil || !ok {
		return Receipt{}, false, err
	}
	g.receipts.Add(txID, rec)
	return rec, true, nil
}

// lock acquires mu unless ctx ends first.
func (g *Gateway) lock(ctx context.Context) error {
	if g.mu.TryLock() {
		return nil
	}
	acquired := make(chan struct{})
	go func() {
		g.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		// Hand the lock back once the waiter gets it.
		go func() {
			<-acquired
			g.mu.Unlock()
		}()
		return apperr.Wrap(apperr.KindLedgerTimeout, "ledger.Submit", "", ctx.Err())
	}
}
