// Package store defines the aggregate persistence interface. Each subsystem
// (task, cluster, reservation, leader, reaper) defines its own store
// interface. The composite Store composes them all. Backends: MongoDB and
// Memory.
package store

import (
	"context"

	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/leader"
	"github.com/pulp/tasking/reaper"
	"github.com/pulp/tasking/reservation"
	"github.com/pulp/tasking/task"
)

// Store is the aggregate persistence interface.
// A single backend (mongo, memory) implements all of them.
type Store interface {
	task.Store
	cluster.Store
	reservation.Store
	leader.Store
	reaper.Store

	// Migrate creates collections and indexes.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
