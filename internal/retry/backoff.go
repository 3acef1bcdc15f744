package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff returns the wait before the given zero-based attempt:
// base, 2*base, 4*base ... capped at max, plus up to 250ms of jitter.
func ExponentialBackoff(attempt int, base, max time.Duration) time.Duration {
	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > max || delay <= 0 {
		delay = max
	}

	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}

// Do retries fn until it succeeds or attempts run out. It stops early when
// ctx is done.
// onRetry, when set, sees every failed attempt before the wait.
func Do(ctx context.Context, attempts int, base, max time.Duration, fn func(ctx context.Context) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		wait := ExponentialBackoff(attempt, base, max)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
