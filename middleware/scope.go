package middleware

import (
	"context"

	"github.com/pulp/tasking/scope"
	"github.com/pulp/tasking/task"
)

// Scope returns middleware that restores the submitting user from the
// task into the context, so handlers act on behalf of the same user as the
// original dispatch.
func Scope() Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		if t.User != "" {
			ctx = scope.WithUser(ctx, t.User)
		}
		return next(ctx)
	}
}
