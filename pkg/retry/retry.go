// Package retry provides the single retry policy shared by the upstream API
// client and the storage layer: bounded exponential backoff with jitter and a
// pluggable retryable-error predicate.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default policy values
const (
	DefaultMaxAttempts = uint(4)
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 4 * time.Second
)

// Policy describes how an operation is retried. The zero value is not usable;
// construct with NewPolicy and override fields as needed.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts uint
	// BaseDelay is the initial backoff interval.
	BaseDelay time.Duration
	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
	// Retryable reports whether an error is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool
}

// NewPolicy returns a Policy with the default attempt and delay settings
// and the given retryable-error predicate.
func NewPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Retryable:   retryable,
	}
}

// After attaches a server-provided retry hint to err. When the wrapped error
// is retried under a Policy, the hinted delay overrides the computed backoff.
func After(d time.Duration, err error) error {
	return errors.Join(err, &backoff.RetryAfterError{Duration: d})
}

// Do runs op under the policy. It returns nil on the first success, the last
// error once the attempt budget is exhausted, and immediately on errors the
// predicate rejects or on context cancellation.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
	)
	return err
}
