// Package retry runs remote writes with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

// Policy bounds the retries of one operation.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Retryable classifies errors; nil means docstore.IsRetryable.
	Retryable func(error) bool
}

// DefaultPolicy retries transient store failures three times.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// NoRetry runs an operation exactly once.
func NoRetry() Policy {
	return Policy{}
}

// Notify is called before each retry with the failed attempt's error.
type Notify func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, fails with a non-retryable error, the retries are
// exhausted or ctx is done. It returns the last error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = docstore.IsRetryable
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
}
