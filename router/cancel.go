package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/task"
)

// Release deletes the reservation held by a task. Releasing a task that
// holds none is not an error.
func (r *Router) Release(ctx context.Context, taskID id.TaskID) error {
	if err := r.store.DeleteReservation(ctx, taskID); err != nil {
		return fmt.Errorf("router: release %s: %w", taskID, err)
	}
	return nil
}

// Cancel moves a task to the canceled state. A waiting task's reservation
// is released before Cancel returns. A running task keeps its reservation
// until its worker observes the cancellation, stops the handler, and
// releases it, so the next task on the resource cannot start alongside it.
// Returns tasking.ErrTaskFinal, changing nothing, when the task already
// finished.
func (r *Router) Cancel(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	t, err := r.store.TransitionTask(ctx, taskID, task.Transition{
		From: []task.State{task.StateWaiting},
		To:   task.StateCanceled,
	})
	if errors.Is(err, tasking.ErrInvalidState) {
		t, err = r.store.TransitionTask(ctx, taskID, task.Transition{
			From: []task.State{task.StateRunning},
			To:   task.StateCanceled,
		})
		if err == nil {
			r.logger.Info("running task canceled, worker will release",
				slog.String("task_id", taskID.String()),
				slog.String("worker", t.WorkerName),
			)
			return t, nil
		}
	}
	switch {
	case errors.Is(err, tasking.ErrInvalidState):
		return nil, fmt.Errorf("%w: %s", tasking.ErrTaskFinal, taskID)
	case errors.Is(err, tasking.ErrTaskNotFound):
		// A reservation may outlive a reaped or rolled back task.
		if relErr := r.Release(ctx, taskID); relErr != nil {
			return nil, relErr
		}
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("router: cancel %s: %w", taskID, err)
	}

	if err := r.Release(ctx, taskID); err != nil {
		return t, err
	}
	r.logger.Info("task canceled",
		slog.String("task_id", taskID.String()),
		slog.String("worker", t.WorkerName),
	)
	return t, nil
}

// CancelWorker cancels every incomplete task assigned to worker and deletes
// all of its reservations. It returns the number of tasks canceled and is
// safe to repeat.
func (r *Router) CancelWorker(ctx context.Context, worker string) (int, error) {
	var errs []error
	canceled := 0

	reserved, err := r.store.ListReservationsByWorker(ctx, worker)
	if err != nil {
		return 0, fmt.Errorf("router: list reservations of %s: %w", worker, err)
	}
	for _, rr := range reserved {
		ok, err := r.cancelQuietly(ctx, rr.TaskID)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			canceled++
		}
		if err := r.store.DeleteReservation(ctx, rr.TaskID); err != nil {
			errs = append(errs, fmt.Errorf("router: delete reservation %s: %w", rr.TaskID, err))
		}
	}

	// Tasks without a resource hold no reservation.
	assigned, err := r.store.ListTasksByWorker(ctx, worker, task.IncompleteStates)
	if err != nil {
		errs = append(errs, fmt.Errorf("router: list tasks of %s: %w", worker, err))
	}
	for _, t := range assigned {
		ok, err := r.cancelQuietly(ctx, t.ID)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			canceled++
		}
	}

	if canceled > 0 {
		r.logger.Info("canceled tasks of worker",
			slog.String("worker", worker),
			slog.Int("canceled", canceled),
		)
	}
	return canceled, errors.Join(errs...)
}

// cancelQuietly cancels a task if it is incomplete. A finished or missing
// task is not an error.
func (r *Router) cancelQuietly(ctx context.Context, taskID id.TaskID) (bool, error) {
	_, err := r.store.TransitionTask(ctx, taskID, task.Transition{
		From:  task.IncompleteStates,
		To:    task.StateCanceled,
		Error: "worker unavailable",
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, tasking.ErrInvalidState), errors.Is(err, tasking.ErrTaskNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("router: cancel %s: %w", taskID, err)
	}
}
