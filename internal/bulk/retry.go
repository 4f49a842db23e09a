package bulk

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff for transport failures.
type RetryConfig struct {
	MaxRetries int           // Additional attempts after the first; 0 disables retry
	BaseDelay  time.Duration // Delay before the first retry
	MaxDelay   time.Duration // Upper bound on any single delay
	Multiplier float64       // Growth factor between retries
}

// DefaultRetryConfig returns 3 retries starting at 500ms, doubling, capped at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
	}
}

// delay returns the wait before retry number attempt (0-based).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.BaseDelay
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// retryWithBackoff calls fn until it succeeds, returns a non-retryable error,
// or MaxRetries retries are spent. onRetry runs before each wait.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error, onRetry func(attempt int, wait time.Duration, err error)) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= cfg.MaxRetries || !isRetryable(err) {
			return err
		}
		wait := cfg.delay(attempt)
		if onRetry != nil {
			onRetry(attempt+1, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
