package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/pulp/tasking/task"
)

// PanicError is the error Recover returns for a handler that panicked.
// Its message is what ends up in the task's error field, so it leaves the
// stack out.
type PanicError struct {
	TaskID     string
	Name       string
	ResourceID string
	Value      any
	Stack      []byte
}

func (e *PanicError) Error() string {
	if e.ResourceID == "" {
		return fmt.Sprintf("task %s panicked: %v", e.Name, e.Value)
	}
	return fmt.Sprintf("task %s on %s panicked: %v", e.Name, e.ResourceID, e.Value)
}

// Unwrap returns the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover returns middleware that turns a handler panic into a
// *PanicError, so the task fails and its reservation is still released.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) (err error) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			pe := &PanicError{
				TaskID:     t.ID.String(),
				Name:       t.Name,
				ResourceID: t.ResourceID,
				Value:      v,
				Stack:      debug.Stack(),
			}
			logger.Error("task handler panicked",
				slog.String("task_id", pe.TaskID),
				slog.String("task_name", pe.Name),
				slog.String("resource_id", pe.ResourceID),
				slog.String("worker", t.WorkerName),
				slog.Any("panic", v),
				slog.String("stack", string(pe.Stack)),
			)
			err = pe
		}()
		return next(ctx)
	}
}
