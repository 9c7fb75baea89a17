package core

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryBudget bounds a retry loop built around exponential backoff.
// It mirrors the shape of the source catalog's safe-operation wrapper:
// a capped number of attempts, an initial delay, and a ceiling the delay
// backs off toward.
type RetryBudget struct {
	// MaxAttempts is the total number of tries, including the first.
	// 0 means "use backoff's defaults with no attempt cap" — callers
	// should normally set this explicitly.
	MaxAttempts int

	// InitialInterval is the delay before the second attempt.
	InitialInterval time.Duration

	// MaxInterval caps the delay between any two attempts.
	MaxInterval time.Duration
}

// DefaultRetryBudget matches the three-attempt, short-backoff pattern used
// by Redis-backed catalog operations that race other converter processes.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Permanent wraps an error to signal that Retry should stop immediately
// without exhausting the remaining attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs fn under exponential backoff until it succeeds, the budget is
// exhausted, fn returns a Permanent error, or ctx is cancelled. It returns
// the last error fn produced, or ctx.Err() if the context ended the loop.
func Retry(ctx context.Context, budget RetryBudget, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = budget.InitialInterval
	bo.MaxInterval = budget.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	var policy backoff.BackOff = bo
	if budget.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(budget.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	err := backoff.Retry(fn, policy)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}
	return err
}
