// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package retry wraps github.com/cenkalti/backoff/v4 with a linear retry
// policy for HTTP requests: up to a fixed number of attempts, delay
// growing linearly with the attempt index rather than backoff/v4's
// default exponential curve.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the linear retry policy used by the HTTP Transport component.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
}

// Default is four attempts total, base 200ms, delay for attempt i
// (1-indexed, i>=1 meaning "this many attempts already made") is Base*i.
func Default() Policy {
	return Policy{MaxAttempts: 4, Base: 200 * time.Millisecond}
}

// linearBackOff adapts Policy to backoff.BackOff's interface so callers can
// still use backoff/v4's retry driver (context support, permanent-error
// short-circuiting) instead of hand-rolling a loop.
type linearBackOff struct {
	policy  Policy
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	if l.attempt >= l.policy.MaxAttempts {
		return backoff.Stop
	}
	return l.policy.Base * time.Duration(l.attempt)
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// Do runs fn up to policy.MaxAttempts times, sleeping the linear delay
// between attempts. fn returning a *backoff.PermanentError aborts retries
// immediately. ctx cancellation aborts retries and returns ctx.Err().
func Do(ctx context.Context, policy Policy, fn func(attempt int) error) error {
	b := &linearBackOff{policy: policy}
	wrapped := backoff.WithContext(b, ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		return fn(attempt)
	}, wrapped)
}

// Permanent marks err as non-retryable, matching backoff/v4's convention.
func Permanent(err error) error { return backoff.Permanent(err) }
