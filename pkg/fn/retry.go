package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures exponential-backoff retries.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetry provides sensible retry defaults.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// backoff returns the sleep before the next attempt, capped at MaxWait.
func (o RetryOpts) backoff(wait time.Duration) time.Duration {
	d := wait
	if o.Jitter {
		d = time.Duration(float64(wait) * (0.5 + rand.Float64()))
	}
	if d > o.MaxWait {
		d = o.MaxWait
	}
	return d
}

// Retry runs f up to MaxAttempts times, doubling the wait between attempts.
// A cancelled ctx aborts the backoff sleep and returns ctx.Err.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	var last Result[T]
	wait := opts.InitialWait

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		last = f(ctx)
		if last.IsOk() || attempt == opts.MaxAttempts {
			return last
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(opts.backoff(wait)):
		}

		if wait *= 2; wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return last
}

// RetryStage wraps a Stage with Retry.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
