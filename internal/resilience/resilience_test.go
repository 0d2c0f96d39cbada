package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/omen/internal/domain"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterExactlyThresholdFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 5
	b := NewBreaker(cfg, nil, zerolog.Nop())

	fail := func() error { return errBoom }

	for i := 0; i < 4; i++ {
		err := b.Execute(fail)
		assert.ErrorIs(t, err, errBoom, "call %d passes through while closed", i)
		assert.Equal(t, "closed", b.State())
	}

	// Fifth consecutive failure trips the circuit.
	assert.ErrorIs(t, b.Execute(fail), errBoom)
	assert.Equal(t, "open", b.State())

	// Open circuit fails fast without invoking the call.
	invoked := false
	err := b.Execute(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 3
	b := NewBreaker(cfg, nil, zerolog.Nop())

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	require.NoError(t, b.Execute(func() error { return nil }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	assert.Equal(t, "closed", b.State(), "count restarts after a success")

	require.Error(t, b.Execute(func() error { return errBoom }))
	assert.Equal(t, "open", b.State())
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 30 * time.Millisecond
	cfg.HalfOpenMaxCalls = 2
	b := NewBreaker(cfg, nil, zerolog.Nop())

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Equal(t, "open", b.State())

	time.Sleep(50 * time.Millisecond)

	// Probes allowed through in half-open; enough successes close it.
	require.NoError(t, b.Execute(func() error { return nil }))
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 30 * time.Millisecond
	b := NewBreaker(cfg, nil, zerolog.Nop())

	require.Error(t, b.Execute(func() error { return errBoom }))
	time.Sleep(50 * time.Millisecond)

	require.Error(t, b.Execute(func() error { return errBoom }))
	assert.Equal(t, "open", b.State())
}

func TestBreaker_ExcusedErrorsDoNotTrip(t *testing.T) {
	excusable := errors.New("consumer said 409")
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 2
	b := NewBreaker(cfg, func(err error) bool {
		return !errors.Is(err, excusable)
	}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		err := b.Execute(func() error { return excusable })
		assert.ErrorIs(t, err, excusable, "excused error still returned")
	}
	assert.Equal(t, "closed", b.State())
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustionReportsAttemptsAndLastError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return errBoom
	})

	var exhausted *RetriesExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, exhausted.LastError, errBoom)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	policy := PublishRetryPolicy()

	calls := 0
	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return NoRetry(errBoom)
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelAbortsWait(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, MinWait: time.Hour, MaxWait: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Retry(ctx, policy, func(ctx context.Context) error { return errBoom })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "wait must abort with the context")
}

func TestBackoff_JitterStaysWithinCeiling(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, MinWait: 100 * time.Millisecond, MaxWait: time.Second}

	for attempt := 1; attempt < 10; attempt++ {
		for i := 0; i < 100; i++ {
			d := backoff(policy, attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, policy.MaxWait)
		}
	}
}
