package task

import (
	"errors"
	"time"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/id"
)

// State represents the lifecycle state of a task.
type State string

const (
	// StateWaiting means the task is queued and has not started.
	StateWaiting State = "waiting"
	// StateRunning means a worker is executing the task.
	StateRunning State = "running"
	// StateCompleted means the task finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the task finished with an error.
	StateFailed State = "failed"
	// StateCanceled means the task was canceled before it finished.
	StateCanceled State = "canceled"
	// StateSkipped means the handler decided there was nothing to do.
	StateSkipped State = "skipped"
)

// IncompleteStates are the states from which a task may still change.
var IncompleteStates = []State{StateWaiting, StateRunning}

// IsFinal reports whether s is a terminal state.
func (s State) IsFinal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateSkipped:
		return true
	default:
		return false
	}
}

// ErrSkip is returned by a handler to finish its task in the skipped state.
var ErrSkip = errors.New("task: skipped")

// Task is a unit of asynchronous work tracked by the coordinator.
type Task struct {
	tasking.Entity

	ID         id.TaskID  `json:"id"`
	Name       string     `json:"name"`
	State      State      `json:"state"`
	WorkerName string     `json:"worker_name,omitempty"`
	ResourceID string     `json:"resource_id,omitempty"`
	Payload    []byte     `json:"payload,omitempty"`
	Error      string     `json:"error,omitempty"`
	User       string     `json:"user,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Result is the archived outcome of a finished task. Results outlive the
// task record and are reaped after their retention window.
type Result struct {
	ID         id.ResultID `json:"id"`
	TaskID     id.TaskID   `json:"task_id"`
	Name       string      `json:"name"`
	State      State       `json:"state"`
	WorkerName string      `json:"worker_name,omitempty"`
	Error      string      `json:"error,omitempty"`
	FinishedAt time.Time   `json:"finished_at"`
}

// NewResult builds the archived result of a finished task.
func NewResult(t *Task) *Result {
	finished := time.Now().UTC()
	if t.FinishedAt != nil {
		finished = *t.FinishedAt
	}
	return &Result{
		ID:         id.NewResultID(),
		TaskID:     t.ID,
		Name:       t.Name,
		State:      t.State,
		WorkerName: t.WorkerName,
		Error:      t.Error,
		FinishedAt: finished,
	}
}
