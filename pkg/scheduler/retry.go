package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jdziat/durable-retry-queue/pkg/backoff"
	"github.com/jdziat/durable-retry-queue/pkg/core"
)

// RetryConfig bounds how hard the scheduler retries its own storage calls.
// It is separate from the job backoff, which spaces out publish attempts.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean one call.
	MaxAttempts int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// JitterFraction randomizes each wait by up to this fraction either way.
	JitterFraction float64
}

func (c RetryConfig) policy() backoff.Policy {
	return backoff.Policy{
		Initial:    c.InitialBackoff,
		Max:        c.MaxBackoff,
		Multiplier: c.BackoffMultiplier,
		Jitter:     c.JitterFraction,
	}
}

// DefaultRetryConfig is used for outcome reports and heartbeats: 5 calls,
// 100ms doubling up to 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// defaultFetchRetryConfig backs off longer so an outage is not hammered by
// every poll.
func defaultFetchRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// retryWithBackoff calls operation until it succeeds, fails with an error
// IsRetryableError rejects, or config.MaxAttempts calls were made. It returns
// ctx.Err() if ctx ends while waiting.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	policy := config.policy()
	attempts := max(config.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := operation()
		if err == nil || !IsRetryableError(err) || attempt >= attempts {
			return err
		}

		timer := time.NewTimer(policy.Delay(int64(attempt)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// IsRetryableError determines if a storage error is worth retrying.
// Context errors and rejected input are permanent; everything else, such as
// lost connections or lock timeouts, is assumed transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if core.IsValidation(err) {
		return false
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrClosed) || errors.Is(err, core.ErrNotInitialized) {
		return false
	}
	return true
}
