// Package retry runs upstream calls with bounded exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried. MaxAttempts counts the first
// call, so a policy of 3 performs at most two retries. Delays double from
// BaseDelay. A nil IsRetryable treats every error as transient.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	IsRetryable func(error) bool
	Logger      *slog.Logger
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// policy or ctx is done. Cancellation stops immediately and returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Millisecond
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		// A timeout inside op is the op's own failure; only the caller's
		// ctx decides cancellation.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.Logger == nil {
			return
		}
		p.Logger.DebugContext(ctx, "retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
