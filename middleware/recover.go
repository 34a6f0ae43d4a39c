package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/conveyorhq/conveyor/job"
)

// Recover converts a handler panic into an ordinary attempt failure.
// The worker stays up, the attempt is charged, and the stack is logged
// at error level.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("job handler panicked",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			retErr = fmt.Errorf("panic in job %s: %v", j.Type, r)
		}()
		return next(ctx)
	}
}
