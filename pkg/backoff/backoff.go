// Package backoff runs calls against rate-limited remote services with bounded,
// exponentially growing retry delays.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go"
)

// Policy describes how often and how patiently a call is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts uint
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// Multiplier scales the wait after every failed attempt.
	Multiplier float64
	// MaxJitter bounds the random extra wait added to every delay.
	MaxJitter time.Duration
}

// DefaultPolicy returns five attempts starting at one second, doubling,
// with up to half a second of jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Validate checks that the policy is bounded and non-negative.
func (p Policy) Validate() error {
	if p.MaxAttempts == 0 {
		return errors.New("max attempts must be at least 1")
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", p.Multiplier)
	}
	if p.MaxJitter < 0 {
		return fmt.Errorf("max jitter must not be negative, got %s", p.MaxJitter)
	}
	return nil
}

// Delay returns the wait before retry n, counted from zero:
// BaseDelay * Multiplier^n plus a uniform jitter in [0, MaxJitter).
func (p Policy) Delay(n uint) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	if d > math.MaxInt64 {
		d = math.MaxInt64
	}
	delay := time.Duration(d)
	if p.MaxJitter > 0 {
		delay += time.Duration(rand.Int64N(int64(p.MaxJitter)))
	}
	return delay
}

type options struct {
	retryIf func(error) bool
	onRetry func(n uint, delay time.Duration, err error)
}

// Option customizes a single Do call.
type Option func(*options)

// RetryIf limits retries to errors for which fn returns true. Other errors
// end the call immediately. Without it every error is retried.
func RetryIf(fn func(error) bool) Option {
	return func(o *options) {
		o.retryIf = fn
	}
}

// OnRetry registers fn to be called before each wait with the zero-based retry
// number, the chosen delay, and the error that caused the retry.
func OnRetry(fn func(n uint, delay time.Duration, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy's
// attempts are used up. It returns the last error seen, or the context's error
// when ctx is done while waiting.
func (p Policy) Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := options{
		retryIf: func(error) bool { return true },
		onRetry: func(uint, time.Duration, error) {},
	}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.RetryIf(o.retryIf),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			delay := p.Delay(n)
			o.onRetry(n, delay, err)
			return delay
		}),
		retry.LastErrorOnly(true),
	)
}
