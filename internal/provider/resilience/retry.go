package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a bounded retry schedule with a fixed delay between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Delay is the fixed wait between two attempts.
	Delay time.Duration
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. op receives the 1-based attempt number. onRetry,
// when non-nil, is called with the failed attempt's error before each wait.
// When attempts are exhausted the last error is returned wrapped with ErrMaxRetriesExceeded.
func Retry(ctx context.Context, policy RetryPolicy, op func(attempt int) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Delay), uint64(policy.MaxAttempts-1)), //nolint:gosec // MaxAttempts >= 1
		ctx,
	)

	attempt := 0
	var lastErr error
	err := backoff.RetryNotify(func() error {
		attempt++
		lastErr = op(attempt)
		return lastErr
	}, schedule, func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	})
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	switch {
	case errors.As(lastErr, &permanent):
		return permanent.Err
	case ctx.Err() != nil:
		return ctx.Err()
	case attempt >= policy.MaxAttempts:
		return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempt, lastErr)
	}
	return err
}
