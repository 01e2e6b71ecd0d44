// Package worker runs tasks on worker processes: a Runner consumes the
// worker's dedicated queue and keeps its heartbeat alive, and an Executor
// runs each delivered task through middleware and its registered handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/broker"
	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/middleware"
	"github.com/pulp/tasking/task"
)

// Releaser frees the reservation held by a finished task.
// *router.Router satisfies this interface.
type Releaser interface {
	Release(ctx context.Context, taskID id.TaskID) error
}

// Executor runs a single delivered task through middleware and the
// registered handler, records its outcome, and releases its reservation.
type Executor struct {
	registry *task.Registry
	store    task.Store
	releaser Releaser
	mw       middleware.Middleware
	logger   *slog.Logger
	exts     *ext.Registry

	// cancelPoll is how often a running task's record is checked for a
	// cancel request. Zero disables the check.
	cancelPoll time.Duration
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	store task.Store,
	releaser Releaser,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		store:    store,
		releaser: releaser,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs the task named by msg on behalf of worker.
//
// The task is claimed with a waiting→running transition; a task that is no
// longer waiting (canceled, or delivered twice) is skipped. After the
// handler returns the task moves to completed, skipped (task.ErrSkip), or
// failed, its result is archived, and its reservation is released. The
// returned error reports bookkeeping failures only; handler errors are
// recorded on the task.
func (e *Executor) Execute(ctx context.Context, msg *broker.Message, worker string) error {
	taskID, err := id.ParseTaskID(msg.TaskID)
	if err != nil {
		e.logger.Error("dropping message with invalid task id",
			slog.String("task_id", msg.TaskID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	t, err := e.store.TransitionTask(ctx, taskID, task.Transition{
		From:       []task.State{task.StateWaiting},
		To:         task.StateRunning,
		WorkerName: worker,
	})
	if err != nil {
		return e.skip(ctx, taskID, err)
	}

	e.exts.EmitTaskStarted(ctx, t)
	started := time.Now()
	runErr := e.runWatched(ctx, t)
	elapsed := time.Since(started)

	// Bookkeeping must finish even when the worker is shutting down.
	ctx = context.WithoutCancel(ctx)

	tr := task.Transition{From: []task.State{task.StateRunning}, To: task.StateCompleted}
	switch {
	case errors.Is(runErr, task.ErrSkip):
		tr.To = task.StateSkipped
	case runErr != nil:
		tr.To = task.StateFailed
		tr.Error = runErr.Error()
	}

	finished, err := e.store.TransitionTask(ctx, taskID, tr)
	switch {
	case errors.Is(err, tasking.ErrInvalidState):
		// Canceled while running; the reservation is ours to release.
		e.logger.Info("task canceled while running", slog.String("task_id", taskID.String()))
	case err != nil:
		e.release(ctx, taskID)
		return fmt.Errorf("worker: finish task %s: %w", taskID, err)
	default:
		e.exts.EmitTaskFinished(ctx, finished, elapsed)
		if err := e.store.SaveResult(ctx, task.NewResult(finished)); err != nil {
			e.logger.Error("failed to archive task result",
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	e.release(ctx, taskID)
	return nil
}

// runWatched runs t and cancels the handler's context once the task is
// canceled in the store.
func (e *Executor) runWatched(ctx context.Context, t *task.Task) error {
	if e.cancelPoll <= 0 {
		return e.run(ctx, t)
	}

	ctx, stop := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.watchCancel(ctx, stop, t.ID)
	}()

	err := e.run(ctx, t)
	stop(nil)
	<-done
	return err
}

func (e *Executor) watchCancel(ctx context.Context, stop context.CancelCauseFunc, taskID id.TaskID) {
	ticker := time.NewTicker(e.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := e.store.GetTask(context.WithoutCancel(ctx), taskID)
			if err != nil {
				if !errors.Is(err, tasking.ErrTaskNotFound) {
					e.logger.Warn("cancel check failed",
						slog.String("task_id", taskID.String()),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			if cur.State == task.StateCanceled {
				e.logger.Info("cancel requested, stopping handler", slog.String("task_id", taskID.String()))
				stop(tasking.ErrTaskCanceled)
				return
			}
		}
	}
}

func (e *Executor) run(ctx context.Context, t *task.Task) error {
	handler, err := e.registry.Get(t.Name)
	if err != nil {
		e.logger.Error("no handler registered",
			slog.String("task_name", t.Name),
			slog.String("task_id", t.ID.String()),
		)
		return err
	}
	return e.mw(ctx, t, func(ctx context.Context) error {
		return handler.Handle(ctx, t)
	})
}

// skip handles a delivery whose task could not be claimed.
func (e *Executor) skip(ctx context.Context, taskID id.TaskID, claimErr error) error {
	if errors.Is(claimErr, tasking.ErrTaskNotFound) {
		e.logger.Warn("skipping delivery of unknown task", slog.String("task_id", taskID.String()))
		e.release(ctx, taskID)
		return nil
	}
	if !errors.Is(claimErr, tasking.ErrInvalidState) {
		return fmt.Errorf("worker: claim task %s: %w", taskID, claimErr)
	}

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("worker: get task %s: %w", taskID, err)
	}
	e.logger.Info("skipping task no longer waiting",
		slog.String("task_id", taskID.String()),
		slog.String("state", string(t.State)),
	)
	if t.State.IsFinal() {
		e.release(ctx, taskID)
	}
	return nil
}

func (e *Executor) release(ctx context.Context, taskID id.TaskID) {
	if err := e.releaser.Release(ctx, taskID); err != nil {
		e.logger.Error("failed to release reservation",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
	}
}
