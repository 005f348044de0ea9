package db

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/medzillo/medzillo/internal/shared"
)

// RetryPolicy bounds automatic retries of conflicting transactions.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a zero policy is supplied.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 250 * time.Millisecond}

// Retry runs fn until it succeeds, fails with a non-conflict error, the context ends or
// attempts are exhausted. It returns the number of attempts made.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) (int, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt - 1, ctxErr
		}
		err = fn(ctx)
		if err == nil || !errors.Is(err, shared.ErrConcurrencyConflict) {
			return attempt, err
		}
		if attempt == policy.MaxAttempts {
			return attempt, err
		}
		timer := time.NewTimer(backoff(policy, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return policy.MaxAttempts, err
}

func backoff(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.BaseDelay << (attempt - 1)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	// full jitter
	return time.Duration(rand.Int63n(int64(delay) + 1))
}
