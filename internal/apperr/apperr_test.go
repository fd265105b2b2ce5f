package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(KindNotFound, "ledger.ReadAsset", "asset-1", "asset does not exist")
	assert.Equal(t, "ledger.ReadAsset: NOT_FOUND: asset does not exist (key=asset-1)", err.Error())

	wrapped := Wrap(KindLedgerUnavailable, "ledger.Submit", "", errors.New("peer down"))
	assert.Equal(t, "ledger.Submit: LEDGER_UNAVAILABLE: peer down", wrapped.Error())
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(KindAlreadyExists, "store.InsertAsset", "a-1", "duplicate")
	err := fmt.Errorf("create asset: %w", base)

	assert.Equal(t, KindAlreadyExists, KindOf(err))
	assert.True(t, IsAlreadyExists(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindNotFound))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(New(KindNotFound, "", "", "x")))
	assert.True(t, IsInvalidTransition(New(KindInvalidTransition, "", "", "x")))
	assert.True(t, IsConflict(New(KindConflict, "", "", "x")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindLedgerUnavailable, "", "", "x")))
	assert.True(t, Retryable(fmt.Errorf("ctx: %w", New(KindLedgerTimeout, "", "", "x"))))
	assert.False(t, Retryable(New(KindNotFound, "", "", "x")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindLedgerUnavailable, "op", "", cause)
	assert.ErrorIs(t, err, cause)
}
