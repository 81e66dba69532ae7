package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func busyOnly(err error) bool { return errors.Is(err, errBusy) }

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []int
	p := Policy{
		MaxAttempts: 5,
		Delay:       time.Millisecond,
		Retryable:   busyOnly,
		OnRetry: func(attempt int, err error, next time.Duration) {
			notified = append(notified, attempt)
		},
	}

	got, err := Do(context.Background(), p, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errBusy
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Run(context.Background(), Policy{MaxAttempts: 5, Delay: time.Millisecond, Retryable: busyOnly}, func() error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Run(context.Background(), Policy{MaxAttempts: 5, Delay: time.Millisecond, Retryable: busyOnly}, func() error {
		calls++
		return errBusy
	})

	assert.Equal(t, 5, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBusy)
}

func TestDoNonRetryableOnLastAttempt(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Run(context.Background(), Policy{MaxAttempts: 2, Delay: time.Millisecond, Retryable: busyOnly}, func() error {
		calls++
		if calls == 1 {
			return errBusy
		}
		return boom
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestDoNilRetryableRunsOnce(t *testing.T) {
	calls := 0
	err := Run(context.Background(), Policy{MaxAttempts: 3}, func() error {
		calls++
		return errBusy
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBusy)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Run(ctx, Policy{MaxAttempts: 5, Delay: time.Hour, Retryable: busyOnly}, func() error {
		calls++
		cancel()
		return errBusy
	})

	assert.Equal(t, 1, calls)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
}
