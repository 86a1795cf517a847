// Package backoff provides a bounded retry policy shared by the store connector,
// the feed subscriptions and the worker supervisor.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy retries an operation up to Attempts times, waiting Delay between attempts.
// With Exponential set the delay doubles after every failed attempt, capped at MaxDelay
// when MaxDelay is positive.
type Policy struct {
	Attempts    int
	Delay       time.Duration
	MaxDelay    time.Duration
	Exponential bool

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Constant returns a policy with a fixed delay between attempts.
func Constant(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

// Exponential returns a policy whose delay doubles after each attempt, up to maxDelay.
func Exponential(attempts int, delay, maxDelay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, MaxDelay: maxDelay, Exponential: true}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a permanent error, the attempts are exhausted
// or ctx is done. On exhaustion the last error returned by op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	var lastErr error

	b := p.backoff()
	if p.OnRetry != nil {
		b = notify(b, func(wait time.Duration) {
			p.OnRetry(attempt, lastErr, wait)
		})
	}

	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err
		return retry.RetryableError(err)
	})
}

func (p Policy) backoff() retry.Backoff {
	var b retry.Backoff
	switch {
	case p.Delay <= 0:
		// go-retry rejects non-positive durations
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	case p.Exponential:
		b = retry.NewExponential(p.Delay)
	default:
		b = retry.NewConstant(p.Delay)
	}

	if p.MaxDelay > 0 && p.Delay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

func notify(next retry.Backoff, fn func(wait time.Duration)) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		wait, stop := next.Next()
		if !stop {
			fn(wait)
		}
		return wait, stop
	})
}
