package cluster

import (
	"context"
	"time"
)

// Store defines the persistence contract for the worker registry.
type Store interface {
	// Heartbeat records that the named worker was alive at the given time,
	// creating the record on first call.
	Heartbeat(ctx context.Context, name string, at time.Time) error

	// GetWorker returns the named worker. Returns tasking.ErrWorkerNotFound.
	GetWorker(ctx context.Context, name string) (*Worker, error)

	// ListWorkers returns all registered workers ordered by name.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ListStaleWorkers returns workers whose last heartbeat is before
	// cutoff, indicating they may have crashed.
	ListStaleWorkers(ctx context.Context, cutoff time.Time) ([]*Worker, error)

	// DeleteWorker removes a worker from the registry. Deleting a missing
	// worker is not an error.
	DeleteWorker(ctx context.Context, name string) error
}
