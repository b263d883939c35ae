// Package retry runs an operation until it succeeds or a policy gives up.
package retry

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"
)

// Policy is a bounded retry policy with optional exponential backoff
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int

	// Delay is the wait before the second attempt
	Delay time.Duration

	// Multiplier scales Delay on every further attempt (<= 1 keeps it constant)
	Multiplier float64

	// MaxDelay caps the computed delay when non-zero
	MaxDelay time.Duration
}

// Once runs a single attempt
var Once = Policy{MaxAttempts: 1}

// Constant returns a policy with a fixed delay between attempts
func Constant(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

// Exponential returns a doubling policy capped at maxDelay
func Exponential(attempts int, initial, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: initial, Multiplier: 2, MaxDelay: maxDelay}
}

// Backoff returns the wait before attempt n+1, given attempt n just failed.
// Formula: delay = min(Delay * Multiplier^(n-1), MaxDelay)
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.Delay <= 0 {
		return 0
	}

	delay := float64(p.Delay)
	if p.Multiplier > 1 {
		delay *= math.Pow(p.Multiplier, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns the wrapped error
// immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the policy is
// exhausted, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	var err error
	limit := p.attempts()

	for attempt := 1; attempt <= limit; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}

		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt == limit {
			break
		}

		if delay := p.Backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return err
		}
	}

	return err
}

// Retryable reports whether an HTTP exchange is worth another attempt:
// network errors, 5xx, 429 and unexpected 3xx are; other 4xx are not
func Retryable(statusCode int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500 && statusCode < 600:
		return true
	case statusCode >= 400 && statusCode < 500:
		return false
	case statusCode >= 300:
		return true
	}
	return false
}
