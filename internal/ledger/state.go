package ledger

import (
	"bytes"
	"iter"
	"strconv"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/roach88/titlechain/internal/canon"
)

var (
	// prefixState namespaces asset world state.
	prefixState = []byte("s/")
	// prefixReceipt namespaces committed transaction receipts.
	prefixReceipt = []byte("r/")
	// keyHeight holds the commit height as a decimal string.
	keyHeight = []byte("m/height")
)

// State is one peer's copy of the world state, backed by leveldb.
type State struct {
	name string
	db   *leveldb.DB
}

// OpenState opens (or creates) a peer's state at path. An empty path keeps
// the state in memory.
func OpenState(name, path string) (*State, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open state %s", name)
	}
	return &State{name: name, db: db}, nil
}

// Name identifies the peer in logs and hash reports.
func (s *State) Name() string {
	return s.name
}

// Close releases the underlying database.
func (s *State) Close() error {
	return errors.Wrapf(s.db.Close(), "close state %s", s.name)
}

// Get returns the committed value for key, or nil when absent.
func (s *State) Get(key string) ([]byte, error) {
	v, err := s.db.Get(stateKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s on %s", key, s.name)
	}
	return v, nil
}

// Height returns the number of transactions committed to this peer.
func (s *State) Height() (uint64, error) {
	v, err := s.db.Get(keyHeight, nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read height on %s", s.name)
	}
	h, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "decode height on %s", s.name)
	}
	return h, nil
}

// Receipt looks up a committed transaction by ID.
func (s *State) Receipt(txID string) (Receipt, bool, error) {
	v, err := s.db.Get(receiptKey(txID), nil)
	if err == leveldb.ErrNotFound {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, errors.Wrapf(err, "read receipt %s on %s", txID, s.name)
	}
	rec, err := decodeReceipt(v)
	if err != nil {
		return Receipt{}, false, errors.Wrapf(err, "decode receipt %s on %s", txID, s.name)
	}
	return rec, true, nil
}

// Pairs yields committed asset state in key order. Iteration stops early
// when the consumer returns false; an iterator error is yielded last with
// an empty key.
func (s *State) Pairs() iter.Seq2[canon.Pair, error] {
	return func(yield func(canon.Pair, error) bool) {
		it := s.db.NewIterator(util.BytesPrefix(prefixState), nil)
		defer it.Release()
		for it.Next() {
			p := canon.Pair{
				Key:   string(bytes.TrimPrefix(it.Key(), prefixState)),
				Value: append([]byte(nil), it.Value()...),
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(canon.Pair{}, errors.Wrapf(err, "iterate state on %s", s.name))
		}
	}
}

// Hash fingerprints the asset state. Peers that agree have equal hashes.
func (s *State) Hash() (string, error) {
	var pairs []canon.Pair
	for p, err := range s.Pairs() {
		if err != nil {
			return "", err
		}
		pairs = append(pairs, p)
	}
	return canon.StateHash(pairs)
}

// PutRaw writes bytes under key without going through the contract or the
// commit log. Repair tooling uses it; so do tests that need a corrupt value.
func (s *State) PutRaw(key string, value []byte) error {
	return errors.Wrapf(s.db.Put(stateKey(key), value, nil), "put raw %s on %s", key, s.name)
}

// commit applies a write set, its receipt and the new height as one batch.
// The returned batch puts back what the commit overwrote; rollback applies
// it when a later peer fails to commit the same transaction.
func (s *State) commit(ws WriteSet, rec Receipt) (*leveldb.Batch, error) {
	undo, err := s.undoFor(ws, rec.TxID)
	if err != nil {
		return nil, err
	}

	batch := new(leveldb.Batch)
	for _, w := range ws {
		if w.Delete {
			batch.Delete(stateKey(w.Key))
		} else {
			batch.Put(stateKey(w.Key), w.Value)
		}
	}
	enc, err := rec.encode()
	if err != nil {
		return nil, err
	}
	batch.Put(receiptKey(rec.TxID), enc)
	batch.Put(keyHeight, []byte(strconv.FormatUint(rec.Height, 10)))

	if err := s.db.Write(batch, nil); err != nil {
		return nil, errors.Wrapf(err, "commit %s on %s", rec.TxID, s.name)
	}
	return undo, nil
}

// rollback applies an undo batch returned by commit.
func (s *State) rollback(undo *leveldb.Batch) error {
	return errors.Wrapf(s.db.Write(undo, nil), "roll back on %s", s.name)
}

func (s *State) undoFor(ws WriteSet, txID string) (*leveldb.Batch, error) {
	undo := new(leveldb.Batch)
	restore := func(key []byte) error {
		v, err := s.db.Get(key, nil)
		switch {
		case err == leveldb.ErrNotFound:
			undo.Delete(key)
		case err != nil:
			return errors.Wrapf(err, "read %s on %s", key, s.name)
		default:
			undo.Put(key, v)
		}
		return nil
	}
	for _, w := range ws {
		if err := restore(stateKey(w.Key)); err != nil {
			return nil, err
		}
	}
	undo.Delete(receiptKey(txID))
	if err := restore(keyHeight); err != nil {
		return nil, err
	}
	return undo, nil
}

func stateKey(key string) []byte {
	return append(append([]byte(nil), prefixState...), key...)
}

func receiptKey(txID string) []byte {
	return append(append([]byte(nil), prefixReceipt...), txID...)
}
