package generation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often a provider call is repeated within a single
// task attempt. It is separate from task-level max_attempts.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// CallWithRetry invokes call until it succeeds, returns a Permanent error,
// runs out of retries or ctx ends. notify, if set, sees every retried error.
func CallWithRetry(
	ctx context.Context,
	policy RetryPolicy,
	call func(ctx context.Context) (string, error),
	notify func(err error, next time.Duration),
) (string, error) {
	delay := policy.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = 30 * delay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(policy.MaxRetries, 0)) + 1),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}

	return backoff.Retry(ctx, func() (string, error) {
		return call(ctx)
	}, opts...)
}
