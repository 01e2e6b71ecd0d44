// Package engine wires the coordinator subsystems of one process together
// and exposes the application-level API for dispatching work.
//
// The engine package exists to break an import cycle: the root tasking
// package defines Config and the sentinel errors (imported by every
// subsystem) and therefore cannot import the subsystems back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	cfg, err := tasking.LoadConfig("tasking.yaml")
//	eng, err := engine.New(cfg, mongoStore, redisBroker,
//	    engine.WithLogger(logger),
//	)
//
// # Running
//
// Run heartbeats as resource_manager@<host> and runs the leader election.
// While this process holds the leader lock it also runs the worker monitor,
// the reaper, the periodic scheduler, and redispatch of waiting tasks.
//
//	go eng.Run(ctx)
//	defer eng.Stop(context.Background())
//
// # Dispatching Work
//
//	engine.Dispatch(ctx, eng, "sync", "repoA", SyncInput{Remote: "origin"})
//
//	// Periodic work
//	engine.RegisterCron(eng, cron.Definition[SyncInput]{
//	    Name:     "nightly-sync",
//	    Schedule: "0 2 * * *",
//	    TaskName: "sync",
//	})
//
// # Options
//
//   - [WithLogger] sets the logger
//   - [WithHostname] overrides the host part of the process identity
//   - [WithClock] overrides the time source of every subsystem
//   - [WithRedispatchRate] throttles redispatch of waiting tasks
//   - [WithTracerProvider] sets the OpenTelemetry tracer provider
//   - [WithMeterProvider] sets the OpenTelemetry meter provider
package engine
