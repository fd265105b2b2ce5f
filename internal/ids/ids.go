// Package ids generates entity identifiers.
package ids

import (
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique identifiers for assets, deals, messages and
// ledger transactions. Implemented by UUIDv7 (production) and Fixed (tests).
type Generator interface {
	New() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers, so rows inserted later
// sort later in listings and logs.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// New returns a hyphenated UUIDv7. Panics if the random source fails.
func (UUIDv7) New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Fixed returns predetermined identifiers in order. Used for deterministic
// tests and golden snapshots.
type Fixed struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixed creates a generator that yields ids in order.
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

// New returns the next predetermined identifier. Panics when exhausted,
// which points at a test that created more entities than it declared.
func (f *Fixed) New() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.idx >= len(f.ids) {
		panic("ids.Fixed: all identifiers exhausted")
	}
	id := f.ids[f.idx]
	f.idx++
	return id
}

// Remaining reports how many identifiers have not been handed out.
func (f *Fixed) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids) - f.idx
}
