// Package store defines the aggregate persistence interface.
//
// Each subsystem (task, cluster, reservation, leader, reaper) defines its
// own store interface. The composite [Store] composes them all. A single
// backend need only implement Store to satisfy every subsystem's
// persistence contract.
//
// Every cross-process invariant rests on single-document atomic operations
// the backend provides: conditional state updates on tasks, insert-or-fail
// on reservations, and the conditional upsert of the scheduler lock.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/mongo: MongoDB document store
//
// # Usage
//
//	s, err := mongo.Connect(ctx, "mongodb://localhost:27017", "tasking")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
// # Migrations
//
// Call Migrate once at startup to create indexes:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
