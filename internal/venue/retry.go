package venue

import (
	"context"
	"errors"
	"time"
)

const (
	maxAttempts = 3
	// Overall deadline covering all attempts plus back-offs. Applied by the
	// adapters around each page fetch.
	fetchDeadline = 15 * time.Second
)

// withRetry runs fn up to maxAttempts times with exponential backoff of
// 2^attempt seconds between failures. Non-2xx responses and JSON parse
// failures are transient; ErrAuth aborts immediately (authentication does
// not heal by retrying). The last error is returned after the final attempt.
func withRetry(ctx context.Context, fn func() error) error {
	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		last = fn()
		if last == nil {
			return nil
		}
		if errors.Is(last, ErrAuth) {
			return last
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return last
}
