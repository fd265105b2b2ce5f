// Package apperr defines the error kinds every titlechain operation reports
// upward. Transports map kinds to their own status codes; nothing above the
// core needs to inspect error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure.
type Kind string

const (
	// KindAlreadyExists: create on an existing key. Not retryable without a
	// different key.
	KindAlreadyExists Kind = "ALREADY_EXISTS"

	// KindNotFound: operation on a missing key.
	KindNotFound Kind = "NOT_FOUND"

	// KindInvalidTransition: a deal stage append violates the stage order.
	KindInvalidTransition Kind = "INVALID_TRANSITION"

	// KindLedgerUnavailable: the ledger rejected or could not process the
	// submission. Retry with the same transaction ID.
	KindLedgerUnavailable Kind = "LEDGER_UNAVAILABLE"

	// KindLedgerTimeout: the submission was abandoned before an outcome was
	// known. Retry with the same transaction ID.
	KindLedgerTimeout Kind = "LEDGER_TIMEOUT"

	// KindDivergence: the relational projection and the ledger disagree on
	// ownership. Reported by reconciliation, not by request handling.
	KindDivergence Kind = "DIVERGENCE"

	// KindConflict: a compare-and-set lost, or dependent records block the
	// operation.
	KindConflict Kind = "CONFLICT"

	// KindInvalid: the request failed validation.
	KindInvalid Kind = "INVALID"
)

// Error is a typed failure with enough structure for logging and mapping.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "ledger.CreateAsset"
	Key     string // entity key involved, if any
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Key != "" {
		msg += " (key=" + e.Key + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without a cause.
func New(kind Kind, op, key, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a cause.
func Wrap(kind Kind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { return Is(err, KindNotFound) }

// IsAlreadyExists reports whether err is a KindAlreadyExists error.
func IsAlreadyExists(err error) bool { return Is(err, KindAlreadyExists) }

// IsInvalidTransition reports whether err is a KindInvalidTransition error.
func IsInvalidTransition(err error) bool { return Is(err, KindInvalidTransition) }

// IsConflict reports whether err is a KindConflict error.
func IsConflict(err error) bool { return Is(err, KindConflict) }

// Retryable reports whether the operation may succeed if resubmitted with
// the same idempotency token.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindLedgerUnavailable, KindLedgerTimeout:
		return true
	}
	return false
}
