package bundling

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 100 * time.Millisecond
	defaultRetryMax      = 2 * time.Second
)

// RetryPolicy retries a transient-failure-prone call a bounded number of
// times with exponential backoff and jitter. It is applied at caller
// boundaries (document writes, notifications), never inside the bundle state
// machine.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the delay after the first failure; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// MaxJitter adds up to this much random delay per sleep.
	MaxJitter time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = defaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultRetryBase
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultRetryMax
	}

	return p
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context is
// cancelled. It returns the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}

		if err := sleepContext(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}

	return lastErr
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if backoff > p.MaxDelay || backoff <= 0 {
		backoff = p.MaxDelay
	}
	if p.MaxJitter > 0 {
		backoff += time.Duration(rand.Int63n(int64(p.MaxJitter) + 1)) //nolint:gosec // jitter does not need crypto randomness
	}

	return backoff
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
