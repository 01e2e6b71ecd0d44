// Package reservation is the reservation table: the durable record binding
// an in-flight task to the resource it exclusively holds and the worker
// executing it.
//
// For any resource, every open reservation names the same worker. Tasks on
// that resource are routed to that worker's dedicated queue, so they run
// one at a time in submission order.
package reservation

import (
	"context"
	"time"

	"github.com/pulp/tasking/id"
)

// ReservedResource binds a task to a resource and a worker. TaskID is the
// primary key.
type ReservedResource struct {
	TaskID     id.TaskID `json:"task_id"`
	WorkerName string    `json:"worker_name"`
	ResourceID string    `json:"resource_id"`
	ReservedAt time.Time `json:"reserved_at"`
}

// Store defines the persistence contract for the reservation table.
type Store interface {
	// InsertReservation writes a new reservation. Returns
	// tasking.ErrReservationAlreadyExists when the task already holds one.
	InsertReservation(ctx context.Context, r *ReservedResource) error

	// GetReservation returns the reservation held by a task. Returns
	// tasking.ErrReservationNotFound.
	GetReservation(ctx context.Context, taskID id.TaskID) (*ReservedResource, error)

	// DeleteReservation removes the reservation held by a task. Deleting a
	// missing reservation is not an error.
	DeleteReservation(ctx context.Context, taskID id.TaskID) error

	// ListReservationsByResource returns the open reservations on a
	// resource, oldest first.
	ListReservationsByResource(ctx context.Context, resourceID string) ([]*ReservedResource, error)

	// ListReservationsByWorker returns the open reservations held by a
	// worker, oldest first.
	ListReservationsByWorker(ctx context.Context, worker string) ([]*ReservedResource, error)

	// CountReservationsByWorker returns the number of open reservations per
	// worker name. Workers with none are absent from the map.
	CountReservationsByWorker(ctx context.Context) (map[string]int, error)
}
