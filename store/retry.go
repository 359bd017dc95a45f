// server/store/retry.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryBaseDelay = 5 * time.Millisecond
	retryMaxDelay  = 200 * time.Millisecond
)

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(error) bool
	// OnRetry is called before each new attempt.
	OnRetry func(attempt int, err error)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseDelay
	b.MaxInterval = retryMaxDelay
	b.MaxElapsedTime = 0
	return b
}

// Run calls attempt until it succeeds, fails with a non-retryable error or
// the policy runs out. Exhaustion wraps ErrRetriesExhausted and keeps the
// last error's message.
func (p RetryPolicy) Run(ctx context.Context, attempt func() error) error {
	maxAttempts := max(p.MaxAttempts, 1)

	var permanent bool
	op := func() error {
		err := attempt()
		if err != nil && (p.Retryable == nil || !p.Retryable(err)) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	retries := 0
	notify := func(err error, _ time.Duration) {
		retries++
		if p.OnRetry != nil {
			p.OnRetry(retries, err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(maxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil, permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, maxAttempts, err)
}
