package middleware

import (
	"context"
	"time"

	"github.com/pulp/tasking/task"
)

// Timeout returns middleware that bounds every task's execution by d.
// When the deadline passes the context is canceled and the handler should
// return context.DeadlineExceeded. A non-positive d disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *task.Task, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
