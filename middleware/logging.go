package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulp/tasking/task"
)

// Logging returns middleware that logs task start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		logger.Info("task started",
			slog.String("task_name", t.Name),
			slog.String("task_id", t.ID.String()),
			slog.String("resource_id", t.ResourceID),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		switch Outcome(ctx, err) {
		case OutcomeError:
			logger.Error("task failed",
				slog.String("task_name", t.Name),
				slog.String("task_id", t.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		case OutcomeCanceled:
			logger.Info("task stopped after cancel",
				slog.String("task_name", t.Name),
				slog.String("task_id", t.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		default:
			logger.Info("task completed",
				slog.String("task_name", t.Name),
				slog.String("task_id", t.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
