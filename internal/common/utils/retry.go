package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries (caps exponential growth)
	MaxDelay time.Duration

	// BackoffFactor is the multiplier for exponential backoff (e.g., 2.0 doubles delay)
	BackoffFactor float64

	// JitterFactor adds randomness to delays (0.0-1.0, where 0.1 = 10% jitter)
	JitterFactor float64

	// RetryableErrors determines which errors should trigger a retry.
	// If nil, all errors are considered retryable.
	RetryableErrors func(error) bool
}

// UsageRecordRetryConfig returns the retry configuration for appending usage
// records after a metered call.
//
// The whole sequence stays well under a second so a slow ledger delays the
// end of the response only briefly. Cancelled contexts are not retried.
func UsageRecordRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  25 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
		RetryableErrors: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	}
}

// RetryWithBackoff executes fn with an exponential backoff retry strategy.
//
// Returns:
//   - nil if fn succeeds within the attempt limit
//   - "max retries exceeded" wrapping the last error if all attempts fail
//   - "retry cancelled" wrapping ctx.Err() if ctx ends while waiting
//   - the original error if RetryableErrors rejects it
//
// The delay between attempts follows: delay = InitialDelay * (BackoffFactor^attempt)
// with optional jitter and capped at MaxDelay.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		timer := time.NewTimer(withJitter(delay, config.JitterFactor))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// withJitter adds up to factor*d of random delay
func withJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}
	spread := int64(float64(d) * factor)
	if spread <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(spread))
}
