package middleware

import (
	"context"
	"errors"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/task"
)

// Handler runs the task body once the middleware in front of it is done.
type Handler func(ctx context.Context) error

// Middleware wraps task execution on a worker. It sees the claimed task
// (state running, WorkerName set) and must call next unless it means to
// stop the task itself.
type Middleware func(ctx context.Context, t *task.Task, next Handler) error

// Chain folds mws into one Middleware. The first entry is outermost. Nil
// entries are skipped so optional middleware can be listed inline.
func Chain(mws ...Middleware) Middleware {
	stack := make([]Middleware, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			stack = append(stack, mw)
		}
	}

	return func(ctx context.Context, t *task.Task, final Handler) error {
		var at func(i int) Handler
		at = func(i int) Handler {
			if i == len(stack) {
				return final
			}
			return func(ctx context.Context) error {
				return stack[i](ctx, t, at(i+1))
			}
		}
		return at(0)(ctx)
	}
}

// Outcomes reported by the tracing, metrics and logging middleware.
const (
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// Outcome classifies the result of a handler run. A run stopped because
// the task was canceled in the store reports OutcomeCanceled even though
// the handler returned its context's error.
func Outcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, task.ErrSkip):
		return OutcomeSkipped
	case errors.Is(context.Cause(ctx), tasking.ErrTaskCanceled), errors.Is(err, tasking.ErrTaskCanceled):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}
