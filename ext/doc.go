// Package ext defines lifecycle hooks for the tasking system.
//
// Extensions are notified when tasks are dispatched, start, and finish,
// when the heartbeat monitor removes a missing worker, when a cron entry
// fires, and when a process shuts down. Each hook is a separate interface
// so extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type auditExt struct{}
//
//	func (auditExt) Name() string { return "audit" }
//
//	func (auditExt) OnTaskFinished(ctx context.Context, t *task.Task, elapsed time.Duration) error {
//	    slog.InfoContext(ctx, "task finished", "task_id", t.ID, "state", t.State)
//	    return nil
//	}
//
// # Hooks
//
//   - [TaskDispatched]: task was routed to a worker queue
//   - [TaskStarted]: a worker claimed the task and began running it
//   - [TaskFinished]: the task reached completed, failed, or skipped
//   - [WorkerMissing]: the monitor removed a worker that stopped heartbeating
//   - [CronFired]: a cron entry dispatched a task
//   - [Shutdown]: a coordinator or worker process is stopping
//
// The [Registry] fans out each event to the registered extensions that
// implement the matching hook. A nil *Registry is valid and emits nothing.
package ext
