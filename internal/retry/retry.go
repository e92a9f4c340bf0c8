// Package retry applies a bounded exponential backoff policy to a
// function call. The policy is an explicit value object so callers can see
// and test the retry semantics instead of hiding them behind decoration.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Min         time.Duration
	Max         time.Duration

	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool
}

// Backoff returns the wait before attempt n (0-based): base*2^n clamped
// to [Min, Max].
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Base * time.Duration(1<<uint(attempt))
	if d < p.Min {
		d = p.Min
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Do runs fn up to MaxAttempts times. Non-retryable errors propagate
// immediately. Exhausting attempts wraps the last error with the attempt
// count. Context cancellation aborts the wait between attempts.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}
