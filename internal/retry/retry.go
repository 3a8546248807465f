// Package retry wraps fallible operations with bounded exponential-backoff retry.
//
// Validation failures are terminal and short-circuit the loop; retrying
// them cannot succeed.
package retry

import (
	"context"
	"time"

	"github.com/chimeapp/chime-server/internal/errors"
)

const (
	// DefaultAttempts is the total number of tries, including the first.
	DefaultAttempts = 3
	// DefaultBaseDelay is the delay before the first retry; it doubles each attempt.
	DefaultBaseDelay = 100 * time.Millisecond
)

// Do invokes op, retrying on failure with exponential backoff
// (baseDelay * 2^attempt) up to attempts total tries. The last error is
// returned after the attempts are exhausted. Context cancellation interrupts
// the backoff sleep and is returned immediately.
func Do[T any](ctx context.Context, attempts int, baseDelay time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if errors.IsValidation(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, lastErr
}

// Void runs an operation with no result through Do.
func Void(ctx context.Context, attempts int, baseDelay time.Duration, op func(ctx context.Context) error) error {
	_, err := Do(ctx, attempts, baseDelay, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
