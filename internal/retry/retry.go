// Package retry wraps bounded retries for store reads.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/and161185/cardkeeper/internal/errs"
)

const (
	// Attempts is the total number of tries, including the first.
	Attempts = 3
	// BaseDelay is the first backoff; it doubles on each retry.
	BaseDelay = 50 * time.Millisecond
)

// Read runs fn up to Attempts times, retrying only errors marked transient.
func Read[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return ReadWith(ctx, Attempts, BaseDelay, fn)
}

// ReadWith is Read with an explicit attempt count and base delay.
func ReadWith[T any](ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	var out T
	backoff := goretry.WithMaxRetries(uint64(attempts-1), goretry.NewExponential(base))
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			if errs.IsTransient(err) {
				return goretry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	return out, err
}
