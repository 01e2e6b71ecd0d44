// Package mongo implements store.Store on MongoDB using the official v2
// driver. It is the production backend: every cross-process invariant
// (single worker per resource, one scheduler lock holder, task state
// transitions) rests on single-document atomic operations.
//
// Collections:
//
//	workers             {_id: name, last_heartbeat}
//	reserved_resources  {_id: task_id, worker_name, resource_id, reserved_at}
//	scheduler_lock      {_id: "scheduler", holder, acquired_at, renewed_at}
//	tasks               {_id: task_id, name, state, worker_name, ...}
//	task_results        {_id: result_id, task_id, state, finished_at, ...}
//
// Either connect and let the Store own the client:
//
//	s, err := mongo.Connect(ctx, "mongodb://localhost:27017", "pulp")
//	defer s.Close()
//	s.Migrate(ctx)
//
// or pass a *mongo.Database whose client the caller owns:
//
//	s := mongo.New(client.Database("pulp"))
package mongo
