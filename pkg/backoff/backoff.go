// Package backoff computes retry delays with exponential growth and full jitter.
package backoff

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt, saturating instead of overflowing.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return delay / 2
	}
	return time.Duration(n.Int64())
}

// ExponentialWithJitter returns a random duration in [base/2, base * 2^attempt).
// The floor keeps a retry from firing immediately after the failure it follows.
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	delay := Exponential(base, attempt)
	floor := delay / 2
	return floor + FullJitter(delay-floor)
}

// SleepWithContext sleeps for duration unless ctx ends first.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// Retry runs fn up to attempts times, sleeping with jittered backoff between failures.
// fn reports whether its error is worth retrying. The last error is returned.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(attempt int) (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		var retryable bool
		retryable, err = fn(attempt)
		if err == nil || !retryable || attempt == attempts-1 {
			return err
		}
		if sleepErr := SleepWithContext(ctx, ExponentialWithJitter(base, attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}
