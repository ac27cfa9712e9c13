package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "fetch", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "fetch", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorContains(t, err, "all 2 attempts failed")
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("not found")
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}
	err := Retry(context.Background(), "fetch", cfg, func(context.Context) error {
		calls++
		return permanent
	})
	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "fetch", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errBoom
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, JitterFraction: 0.1}
	for i := 0; i < 50; i++ {
		first := cfg.Backoff(1)
		assert.GreaterOrEqual(t, first, 90*time.Millisecond)
		assert.LessOrEqual(t, first, 110*time.Millisecond)

		third := cfg.Backoff(3)
		assert.GreaterOrEqual(t, third, 360*time.Millisecond)
		assert.LessOrEqual(t, third, 440*time.Millisecond)

		assert.Equal(t, time.Second, cfg.Backoff(10))
	}
	assert.LessOrEqual(t, RetryConfig{}.Backoff(0), 110*time.Millisecond)
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	var transitions []State
	cb := NewCircuitBreaker("records", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, s State) { transitions = append(transitions, s) },
	})
	cb.now = func() time.Time { return now }
	ctx := context.Background()
	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("records", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	cb.Execute(ctx, func(context.Context) error { return errBoom })
	now = now.Add(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	missing := errors.New("missing")
	cb := NewCircuitBreaker("records", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, missing) },
	})
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return missing }), missing)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "fetch", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "fetch")

	assert.NoError(t, WithTimeout(context.Background(), time.Second, "fetch", func(context.Context) error { return nil }))
	assert.ErrorIs(t, WithTimeout(context.Background(), 0, "fetch", func(context.Context) error { return errBoom }), errBoom)
}
