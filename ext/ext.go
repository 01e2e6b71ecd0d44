package ext

import (
	"context"
	"time"

	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// TaskDispatched is called after a task is routed and published.
type TaskDispatched interface {
	OnTaskDispatched(ctx context.Context, t *task.Task) error
}

// TaskStarted is called when a worker claims a task.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskFinished is called once a task reaches a final state on the worker
// that ran it. t.State tells the outcome.
type TaskFinished interface {
	OnTaskFinished(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// WorkerMissing is called after the monitor reclaims and removes a worker.
type WorkerMissing interface {
	OnWorkerMissing(ctx context.Context, worker string, canceled int) error
}

// CronFired is called after a cron entry dispatches a task.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, taskID id.TaskID) error
}

// Shutdown is called when a process stops gracefully.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
