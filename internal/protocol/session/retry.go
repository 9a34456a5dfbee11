package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var ErrRetryExhausted = errors.New("session: retry attempts exhausted")

// RetryPolicy bounds a retry loop. MaxAttempts <= 0 retries until the
// context ends.
type RetryPolicy struct {
	Backoff     BackoffConfig
	MaxAttempts int
}

// Retry calls fn until it succeeds, the policy is exhausted or ctx ends.
// fn receives the 1-based attempt number.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
		}
		backoff := policy.Backoff
		backoff.Jitter = false
		if err := Sleep(ctx, NextBackoffDelay(backoff, attempt, nil)); err != nil {
			return err
		}
	}
}

// Sleep waits d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
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

// NextBackoffDelay returns the wait before retry number attempt (1-based).
// A multiplier of 1 or less yields a fixed delay. With Jitter set the delay
// is scaled into [0.5, 1.5) using rng, or halved when rng is nil.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 && cfg.Multiplier > 1 {
		delay *= math.Pow(cfg.Multiplier, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if !cfg.Jitter {
		return time.Duration(delay)
	}
	scale := 0.5
	if rng != nil {
		scale += rng.Float64()
	}
	return time.Duration(delay * scale)
}
