package mongo

import (
	"fmt"
	"time"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/leader"
	"github.com/pulp/tasking/reservation"
	"github.com/pulp/tasking/task"
)

// ── Task model ──────────────────────────────────────────────────

type taskModel struct {
	ID         string     `bson:"_id"`
	Name       string     `bson:"name"`
	State      string     `bson:"state"`
	WorkerName string     `bson:"worker_name,omitempty"`
	ResourceID string     `bson:"resource_id,omitempty"`
	Payload    []byte     `bson:"payload,omitempty"`
	Error      string     `bson:"error,omitempty"`
	User       string     `bson:"user,omitempty"`
	StartedAt  *time.Time `bson:"started_at,omitempty"`
	FinishedAt *time.Time `bson:"finished_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
}

func toTaskModel(t *task.Task) *taskModel {
	return &taskModel{
		ID:         t.ID.String(),
		Name:       t.Name,
		State:      string(t.State),
		WorkerName: t.WorkerName,
		ResourceID: t.ResourceID,
		Payload:    t.Payload,
		Error:      t.Error,
		User:       t.User,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func fromTaskModel(m *taskModel) (*task.Task, error) {
	taskID, err := id.ParseTaskID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: parse task id %q: %w", m.ID, err)
	}
	return &task.Task{
		Entity:     tasking.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         taskID,
		Name:       m.Name,
		State:      task.State(m.State),
		WorkerName: m.WorkerName,
		ResourceID: m.ResourceID,
		Payload:    m.Payload,
		Error:      m.Error,
		User:       m.User,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}, nil
}

// ── Result model ──────────────────────────────────────────────────

type resultModel struct {
	ID         string    `bson:"_id"`
	TaskID     string    `bson:"task_id"`
	Name       string    `bson:"name"`
	State      string    `bson:"state"`
	WorkerName string    `bson:"worker_name,omitempty"`
	Error      string    `bson:"error,omitempty"`
	FinishedAt time.Time `bson:"finished_at"`
}

func toResultModel(r *task.Result) *resultModel {
	return &resultModel{
		ID:         r.ID.String(),
		TaskID:     r.TaskID.String(),
		Name:       r.Name,
		State:      string(r.State),
		WorkerName: r.WorkerName,
		Error:      r.Error,
		FinishedAt: r.FinishedAt,
	}
}

func fromResultModel(m *resultModel) (*task.Result, error) {
	resultID, err := id.ParseResultID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: parse result id %q: %w", m.ID, err)
	}
	taskID, err := id.ParseTaskID(m.TaskID)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: parse task id %q: %w", m.TaskID, err)
	}
	return &task.Result{
		ID:         resultID,
		TaskID:     taskID,
		Name:       m.Name,
		State:      task.State(m.State),
		WorkerName: m.WorkerName,
		Error:      m.Error,
		FinishedAt: m.FinishedAt,
	}, nil
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	Name          string    `bson:"_id"`
	LastHeartbeat time.Time `bson:"last_heartbeat"`
}

func fromWorkerModel(m *workerModel) *cluster.Worker {
	return &cluster.Worker{Name: m.Name, LastHeartbeat: m.LastHeartbeat}
}

// ── Reservation model ──────────────────────────────────────────────────

type reservationModel struct {
	TaskID     string    `bson:"_id"`
	WorkerName string    `bson:"worker_name"`
	ResourceID string    `bson:"resource_id"`
	ReservedAt time.Time `bson:"reserved_at"`
}

func toReservationModel(r *reservation.ReservedResource) *reservationModel {
	return &reservationModel{
		TaskID:     r.TaskID.String(),
		WorkerName: r.WorkerName,
		ResourceID: r.ResourceID,
		ReservedAt: r.ReservedAt,
	}
}

func fromReservationModel(m *reservationModel) (*reservation.ReservedResource, error) {
	taskID, err := id.ParseTaskID(m.TaskID)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: parse reservation task id %q: %w", m.TaskID, err)
	}
	return &reservation.ReservedResource{
		TaskID:     taskID,
		WorkerName: m.WorkerName,
		ResourceID: m.ResourceID,
		ReservedAt: m.ReservedAt,
	}, nil
}

// ── Lock model ──────────────────────────────────────────────────

type lockModel struct {
	ID         string    `bson:"_id"`
	Holder     string    `bson:"holder"`
	AcquiredAt time.Time `bson:"acquired_at"`
	RenewedAt  time.Time `bson:"renewed_at"`
}

func fromLockModel(m *lockModel) *leader.Lock {
	return &leader.Lock{Holder: m.Holder, AcquiredAt: m.AcquiredAt, RenewedAt: m.RenewedAt}
}
