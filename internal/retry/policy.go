package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// maxShift caps the backoff exponent to prevent overflow of
	// time.Duration.
	maxShift = 10

	// jitterDivisor bounds jitter to [0, delay/jitterDivisor).
	jitterDivisor = 2
)

// Policy decides whether a failed remote call is attempted again and how
// long to wait first. attempt counts completed attempts, starting at 1.
type Policy interface {
	ShouldRetry(attempt int, err error) bool
	Delay(attempt int) time.Duration
}

// Exponential retries transient failures with bounded exponential
// backoff: BaseDelay * 2^(attempt-1), capped at MaxDelay.
type Exponential struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Exponential {
	return Exponential{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// ShouldRetry is false for non-transient errors and once MaxAttempts
// attempts have been made.
func (p Exponential) ShouldRetry(attempt int, err error) bool {
	if Classify(err) != ClassTransient {
		return false
	}

	return attempt < p.MaxAttempts
}

// Delay returns the wait before the attempt after the given one.
func (p Exponential) Delay(attempt int) time.Duration {
	shift := max(attempt-1, 0)
	if shift > maxShift {
		shift = maxShift
	}

	delay := p.BaseDelay * time.Duration(1<<shift)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter && delay >= jitterDivisor {
		delay += time.Duration(rand.Int64N(int64(delay) / jitterDivisor)) //nolint:gosec // G404: jitter only
	}

	return delay
}

// Do calls fn until it succeeds, the policy gives up, or ctx ends.
// The last error is returned unchanged so callers can classify it.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !p.ShouldRetry(attempt, err) {
			return err
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
