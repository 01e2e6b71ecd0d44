package task

import (
	"context"

	"github.com/pulp/tasking/id"
)

// Transition describes a compare-and-set state change. Only the named
// fields are written; the store stamps StartedAt when moving to running and
// FinishedAt when moving to a final state.
type Transition struct {
	// From lists the states the task must currently be in.
	From []State
	// To is the new state.
	To State
	// WorkerName, when non-empty, reassigns the task.
	WorkerName string
	// ClearWorker unassigns the task. Ignored when WorkerName is set.
	ClearWorker bool
	// Error is recorded on the task when non-empty.
	Error string
}

// Store defines the persistence contract for tasks.
type Store interface {
	// CreateTask persists a new task. Returns tasking.ErrTaskAlreadyExists
	// when the ID is taken.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID. Returns tasking.ErrTaskNotFound.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// TransitionTask atomically applies tr if the task's current state is
	// in tr.From and returns the updated task. Returns
	// tasking.ErrInvalidState when the precondition fails and
	// tasking.ErrTaskNotFound when the task does not exist.
	TransitionTask(ctx context.Context, taskID id.TaskID, tr Transition) (*Task, error)

	// DeleteTask removes a task. Deleting a missing task is not an error.
	DeleteTask(ctx context.Context, taskID id.TaskID) error

	// ListTasksByWorker returns tasks assigned to worker whose state is in
	// states.
	ListTasksByWorker(ctx context.Context, worker string, states []State) ([]*Task, error)

	// ListUnassignedTasks returns up to limit waiting tasks with no worker,
	// oldest first.
	ListUnassignedTasks(ctx context.Context, limit int) ([]*Task, error)

	// ListUnassignedTasksByResource returns the waiting tasks with no
	// worker that need resourceID, oldest first.
	ListUnassignedTasksByResource(ctx context.Context, resourceID string) ([]*Task, error)

	// SaveResult archives the outcome of a finished task.
	SaveResult(ctx context.Context, r *Result) error
}
