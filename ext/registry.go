package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/task"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions are sorted into per-hook slices at registration so
// emit calls only visit implementors.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	taskDispatched []entry[TaskDispatched]
	taskStarted    []entry[TaskStarted]
	taskFinished   []entry[TaskFinished]
	workerMissing  []entry[WorkerMissing]
	cronFired      []entry[CronFired]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger, exts ...Extension) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	for _, e := range exts {
		r.Register(e)
	}
	return r
}

// Register adds an extension. Extensions are notified in registration
// order. Register is not safe to call concurrently with the emitters.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TaskDispatched); ok {
		r.taskDispatched = append(r.taskDispatched, entry[TaskDispatched]{name, h})
	}
	if h, ok := e.(TaskStarted); ok {
		r.taskStarted = append(r.taskStarted, entry[TaskStarted]{name, h})
	}
	if h, ok := e.(TaskFinished); ok {
		r.taskFinished = append(r.taskFinished, entry[TaskFinished]{name, h})
	}
	if h, ok := e.(WorkerMissing); ok {
		r.workerMissing = append(r.workerMissing, entry[WorkerMissing]{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, entry[CronFired]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	if r == nil {
		return nil
	}
	return r.extensions
}

// EmitTaskDispatched notifies all extensions that implement TaskDispatched.
func (r *Registry) EmitTaskDispatched(ctx context.Context, t *task.Task) {
	if r == nil {
		return
	}
	for _, e := range r.taskDispatched {
		if err := e.hook.OnTaskDispatched(ctx, t); err != nil {
			r.logHookError("OnTaskDispatched", e.name, err)
		}
	}
}

// EmitTaskStarted notifies all extensions that implement TaskStarted.
func (r *Registry) EmitTaskStarted(ctx context.Context, t *task.Task) {
	if r == nil {
		return
	}
	for _, e := range r.taskStarted {
		if err := e.hook.OnTaskStarted(ctx, t); err != nil {
			r.logHookError("OnTaskStarted", e.name, err)
		}
	}
}

// EmitTaskFinished notifies all extensions that implement TaskFinished.
func (r *Registry) EmitTaskFinished(ctx context.Context, t *task.Task, elapsed time.Duration) {
	if r == nil {
		return
	}
	for _, e := range r.taskFinished {
		if err := e.hook.OnTaskFinished(ctx, t, elapsed); err != nil {
			r.logHookError("OnTaskFinished", e.name, err)
		}
	}
}

// EmitWorkerMissing notifies all extensions that implement WorkerMissing.
func (r *Registry) EmitWorkerMissing(ctx context.Context, worker string, canceled int) {
	if r == nil {
		return
	}
	for _, e := range r.workerMissing {
		if err := e.hook.OnWorkerMissing(ctx, worker, canceled); err != nil {
			r.logHookError("OnWorkerMissing", e.name, err)
		}
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, taskID id.TaskID) {
	if r == nil {
		return
	}
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, taskID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	if r == nil {
		return
	}
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never reach the caller.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
