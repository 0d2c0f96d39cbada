package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy describes exponential backoff with full jitter: each
// wait is uniform in [0, min(maxWait, minWait*2^attempt)].
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinWait     time.Duration `yaml:"min_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// SourceRetryPolicy covers upstream source fetches.
func SourceRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, MinWait: 100 * time.Millisecond, MaxWait: 10 * time.Second}
}

// PublishRetryPolicy covers hot-path delivery to the consumer.
func PublishRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, MinWait: 500 * time.Millisecond, MaxWait: 30 * time.Second}
}

// RetriesExhausted reports that every attempt failed.
type RetriesExhausted struct {
	Attempts  int
	LastError error
}

func (e *RetriesExhausted) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *RetriesExhausted) Unwrap() error { return e.LastError }

// Permanent wraps an error that must not be retried.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// NoRetry marks err as permanent for Retry.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Retry runs fn until it succeeds, returns a permanent error, the
// policy is exhausted, or ctx is cancelled. Waits suspend on a timer;
// they never busy-wait and they abort as soon as ctx does.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var last error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(policy, attempt)); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = err
	}
	return &RetriesExhausted{Attempts: policy.MaxAttempts, LastError: last}
}

// backoff computes the jittered wait before the given attempt
// (attempt >= 1).
func backoff(policy RetryPolicy, attempt int) time.Duration {
	ceil := policy.MinWait << uint(attempt-1)
	if ceil <= 0 || ceil > policy.MaxWait {
		ceil = policy.MaxWait
	}
	if ceil <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceil) + 1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
