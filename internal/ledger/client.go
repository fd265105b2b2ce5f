package ledger

import (
	"context"
	"iter"
	"strconv"

	"github.com/roach88/titlechain/internal/model"
)

// Client is the ledger surface the registry and transfer coordinator use.
// Every mutating call carries a transaction ID so callers can retry safely.
type Client interface {
	AssetExists(ctx context.Context, uuid string) (bool, error)
	CreateAsset(ctx context.Context, txID string, f model.Facts) error
	ReadAsset(ctx context.Context, uuid string) ([]byte, error)
	UpdateAsset(ctx context.Context, txID string, f model.Facts) error
	DeleteAsset(ctx context.Context, txID, uuid string) error
	TransferAsset(ctx context.Context, txID, uuid, newOwner string) (TransferResult, error)
	GetAllAssets(ctx context.Context) ([]byte, error)
	Scan(ctx context.Context) iter.Seq2[string, Entry]
}

// TransferResult reports a committed ownership change. Replayed is set when
// the transaction ID had already been committed and nothing was applied.
type TransferResult struct {
	PreviousOwner string
	Replayed      bool
	Height        uint64
}

var _ Client = (*Gateway)(nil)

// AssetExists reports whether a record is stored under uuid.
func (g *Gateway) AssetExists(ctx context.Context, uuid string) (bool, error) {
	res, err := g.Evaluate(ctx, FnAssetExists, uuid)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(res)
}

// CreateAsset submits a new record.
func (g *Gateway) CreateAsset(ctx context.Context, txID string, f model.Facts) error {
	_, err := g.Submit(ctx, Proposal{TxID: txID, Fn: FnCreateAsset, Args: factsArgs(f)})
	return err
}

// ReadAsset returns the stored canonical bytes.
func (g *Gateway) ReadAsset(ctx context.Context, uuid string) ([]byte, error) {
	res, err := g.Evaluate(ctx, FnReadAsset, uuid)
	if err != nil {
		return nil, err
	}
	return []byte(res), nil
}

// UpdateAsset overwrites a record with the full fact set.
func (g *Gateway) UpdateAsset(ctx context.Context, txID string, f model.Facts) error {
	_, err := g.Submit(ctx, Proposal{TxID: txID, Fn: FnUpdateAsset, Args: factsArgs(f)})
	return err
}

// DeleteAsset removes a record.
func (g *Gateway) DeleteAsset(ctx context.Context, txID, uuid string) error {
	_, err := g.Submit(ctx, Proposal{TxID: txID, Fn: FnDeleteAsset, Args: []string{uuid}})
	return err
}

// TransferAsset moves a record to newOwner.
func (g *Gateway) TransferAsset(ctx context.Context, txID, uuid, newOwner string) (TransferResult, error) {
	out, err := g.Submit(ctx, Proposal{TxID: txID, Fn: FnTransferAsset, Args: []string{uuid, newOwner}})
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{PreviousOwner: out.Result, Replayed: out.Replayed, Height: out.Height}, nil
}

// GetAllAssets returns every record as one canonical JSON array.
func (g *Gateway) GetAllAssets(ctx context.Context) ([]byte, error) {
	res, err := g.Evaluate(ctx, FnGetAllAssets)
	if err != nil {
		return nil, err
	}
	return []byte(res), nil
}

// Scan lazily yields every record in key order from the first peer. Values
// that fail to decode come through as corrupt entries and the scan goes on.
// Iteration stops when ctx ends; storage errors are logged and end it too.
func (g *Gateway) Scan(ctx context.Context) iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		for p, err := range g.peers[0].Pairs() {
			if err != nil {
				g.log.Error().Err(err).Msg("ledger scan aborted")
				return
			}
			if ctx.Err() != nil {
				return
			}
			if !yield(p.Key, decodeEntry(p.Value)) {
				return
			}
		}
	}
}
