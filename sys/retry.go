package sys

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrTransient marks a failure worth retrying, such as HTTP 429 or 5xx.
var ErrTransient = errors.New("transient failure")

type RetryPolicy struct {
	Retries int
	Delay   time.Duration
	Backoff float64
	// Timeout bounds each attempt when non-zero.
	Timeout time.Duration
}

// DefaultRetry is two retries after the first attempt, 500ms apart, doubling.
var DefaultRetry = RetryPolicy{Retries: 2, Delay: 500 * time.Millisecond, Backoff: 2.0}

// WithTimeout returns a copy of the policy bounding each attempt by d.
func (p RetryPolicy) WithTimeout(d time.Duration) RetryPolicy {
	p.Timeout = d
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.Multiplier = max(p.Backoff, 1)
	b.RandomizationFactor = 0
	b.MaxInterval = max(p.Delay, 30*time.Second)
	return b
}

// IsTransient reports whether err is a timeout or was marked with ErrTransient.
func IsTransient(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTransient)
}

// Retry runs fn until it succeeds, fails with a non-transient error, or runs out of retries.
// The last error is returned unchanged.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var last error
	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := runAttempt(ctx, p.Timeout, fn)
		last = err
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.Retries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil && last != nil {
		return v, last
	}
	return v, err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
