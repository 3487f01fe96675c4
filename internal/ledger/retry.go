package ledger

import (
	"context"
	"errors"
)

// DefaultAttempts bounds optimistic retries for one logical operation.
const DefaultAttempts = 3

// RetryObserver is notified each time an attempt loses a version race.
type RetryObserver func(attempt int)

// Retry runs fn until it returns something other than ErrVersionConflict, at most
// attempts times. fn must re-read wallet versions on every call.
func Retry(ctx context.Context, attempts int, observe RetryObserver, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if observe != nil {
			observe(attempt)
		}
	}
	return ErrConcurrencyConflict
}
