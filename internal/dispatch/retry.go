package dispatch

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ErrRateLimited marks an error as the backend asking us to slow down.
var ErrRateLimited = errors.New("rate limited")

type rateLimiter interface{ RateLimited() bool }

// IsRateLimited reports whether err carries the rate-limit signal, either by
// wrapping ErrRateLimited or by exposing RateLimited() true.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var rl rateLimiter
	return errors.As(err, &rl) && rl.RateLimited()
}

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Jitter returns the random component added to each backoff. Defaults to
	// a uniform duration in [0, BaseDelay).
	Jitter func(base time.Duration) time.Duration
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Backoff returns the wait before retry number attempt (0-based), without jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<attempt)
}

// WithRetry runs op, retrying only rate-limited failures up to MaxAttempts-1
// times. Any other error, or the error of the final attempt, is returned as is.
func WithRetry[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Jitter == nil {
		p.Jitter = uniformJitter
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil || !IsRateLimited(err) || attempt >= p.MaxAttempts-1 {
			return v, err
		}
		retries.Inc()
		if serr := p.Sleep(ctx, p.Backoff(attempt)+p.Jitter(p.BaseDelay)); serr != nil {
			return v, err
		}
	}
}

// Retrying adapts an error-only operation for use with Submit.
func Retrying(p Policy, op func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := WithRetry(ctx, p, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, op(ctx)
		})
		return err
	}
}

func uniformJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(base)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
