// Package backoff holds the deterministic exponential delay used for AI job
// retries and for retrying transient store errors.
package backoff

import (
	"context"
	"time"
)

// Exponential returns min(max, base * 2^(attempt-1)). Attempts below 1 are
// treated as 1. There is no jitter, so the schedule is reproducible.
func Exponential(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Retry calls fn up to attempts times while retryable(err) holds, sleeping
// Exponential(n, base, max) between calls. The last error is returned.
func Retry(ctx context.Context, attempts int, base, max time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if n == attempts {
			break
		}
		timer := time.NewTimer(Exponential(n, base, max))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
