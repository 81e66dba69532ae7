// Package retry runs operations under a bounded, fixed-delay retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable never retries.
	Retryable func(error) bool
	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempts are used up.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && !p.retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempt, err, next)
			}
		}),
	)
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return res, permanent.Unwrap()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, err
	}
	if p.retryable(err) {
		return res, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
	return res, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func() error) error {
	_, err := Do(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func (p Policy) retryable(err error) bool {
	return p.Retryable != nil && p.Retryable(err)
}
