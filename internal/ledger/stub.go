package ledger

import (
	"bytes"
	"iter"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/roach88/titlechain/internal/canon"
)

// Write is one entry of a transaction's write set.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// WriteSet is a transaction's buffered writes in key order.
type WriteSet []Write

// Bytes is the canonical encoding peers compare during endorsement.
func (ws WriteSet) Bytes() ([]byte, error) {
	arr := make(canon.Array, len(ws))
	for i, w := range ws {
		arr[i] = canon.Object{
			"delete": canon.Bool(w.Delete),
			"key":    canon.String(w.Key),
			"value":  canon.String(w.Value),
		}
	}
	return canon.Marshal(arr)
}

// Stub is the context a contract function runs in: reads see committed
// state plus the transaction's own writes, and writes stay buffered until
// the gateway commits them.
type Stub struct {
	state  *State
	writes map[string]Write
}

// NewStub starts a transaction context over state.
func NewStub(state *State) *Stub {
	return &Stub{state: state, writes: make(map[string]Write)}
}

// GetState returns the value for key, or nil when absent or deleted.
func (s *Stub) GetState(key string) ([]byte, error) {
	if w, ok := s.writes[key]; ok {
		if w.Delete {
			return nil, nil
		}
		return w.Value, nil
	}
	return s.state.Get(key)
}

// PutState buffers a write. Empty keys are rejected like Fabric does.
func (s *Stub) PutState(key string, value []byte) error {
	if key == "" {
		return errors.New("empty key")
	}
	s.writes[key] = Write{Key: key, Value: append([]byte(nil), value...)}
	return nil
}

// DelState buffers a delete.
func (s *Stub) DelState(key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	s.writes[key] = Write{Key: key, Delete: true}
	return nil
}

// StateRange yields committed state in key order. Buffered writes are not
// visible to range reads.
func (s *Stub) StateRange() iter.Seq2[canon.Pair, error] {
	return s.state.Pairs()
}

// WriteSet returns the buffered writes sorted by key.
func (s *Stub) WriteSet() WriteSet {
	ws := make(WriteSet, 0, len(s.writes))
	for _, w := range s.writes {
		ws = append(ws, w)
	}
	slices.SortFunc(ws, func(a, b Write) int { return strings.Compare(a.Key, b.Key) })
	return ws
}

// Receipt records a committed transaction. Receipts are what make a
// transaction ID usable as an idempotency token.
type Receipt struct {
	TxID         string
	Fn           string
	ProposalHash string
	Result       string
	Height       uint64
}

func (r Receipt) encode() ([]byte, error) {
	return canon.Marshal(canon.Object{
		"fn":       canon.String(r.Fn),
		"height":   canon.Int(int64(r.Height)),
		"proposal": canon.String(r.ProposalHash),
		"result":   canon.String(r.Result),
		"txId":     canon.String(r.TxID),
	})
}

func decodeReceipt(data []byte) (Receipt, error) {
	obj, err := canon.ParseObject(data)
	if err != nil {
		return Receipt{}, err
	}
	h, ok := obj["height"].(canon.Int)
	if !ok || h < 0 {
		return Receipt{}, errors.New("receipt height missing")
	}
	return Receipt{
		TxID:         obj.Str("txId"),
		Fn:           obj.Str("fn"),
		ProposalHash: obj.Str("proposal"),
		Result:       obj.Str("result"),
		Height:       uint64(h),
	}, nil
}

// equalEndorsement reports whether two peers produced the same outcome.
func equalEndorsement(aWS, bWS []byte, aRes, bRes string) bool {
	return bytes.Equal(aWS, bWS) && aRes == bRes
}
