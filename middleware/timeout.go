package middleware

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/job"
)

// Timeout returns middleware that enforces an execution deadline on every
// job attempt. When the deadline is exceeded the context is cancelled and
// the handler should return context.DeadlineExceeded, which counts as a
// failed attempt. A zero duration disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
