// Package tasking coordinates asynchronous tasks across a fleet of stateless
// worker processes that share a message queue and a document store.
//
// It guarantees three things:
//   - tasks that touch the same logical resource never run concurrently,
//   - work held by a dead worker process is detected and canceled,
//   - exactly one coordinator process runs periodic duties at a time.
//
// # Architecture
//
// Each subsystem (task, cluster, reservation, leader) defines its own store
// interface. A single backend (store/mongo, store/memory) implements all of
// them. The router decides which dedicated worker queue receives a task and
// records the resource reservation before the message is published. The
// monitor audits worker heartbeats and cancels the work of missing workers.
// The leader elector gates the monitor, the reaper, and the periodic
// scheduler so they run on a single coordinator.
//
// # Quick Start
//
//	cfg := tasking.DefaultConfig()
//	eng, err := engine.New(cfg, mongostore.New(db), broker.NewMemory())
//	if err != nil { ... }
//	go eng.Run(ctx)
//
//	t, err := eng.Router().Dispatch(ctx, router.Request{
//	    Name:       "sync",
//	    ResourceID: "repository:zoo",
//	})
package tasking
