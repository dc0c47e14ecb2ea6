package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetry provides sensible retry defaults for network calls.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     10 * time.Second,
	Jitter:      true,
}

// Retry retries f up to MaxAttempts times with exponential backoff. The last
// failed Result is returned if all attempts fail.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	var result Result[T]
	wait := opts.InitialWait

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(sleep):
		}

		wait *= 2
		if wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}
