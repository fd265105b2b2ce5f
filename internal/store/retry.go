package store

import (
	"context"

	"github.com/roach88/titlechain/internal/apperr"
)

// DefaultRetries bounds RetryOnConflict for read-modify-write loops.
const DefaultRetries = 8

// RetryOnConflict runs fn until it returns something other than a Conflict,
// at most attempts times. fn must re-read whatever it compares against.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for range max(attempts, 1) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); !apperr.IsConflict(err) {
			return err
		}
	}
	return err
}
