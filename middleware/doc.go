// Package middleware provides composable middleware for task execution on
// workers.
//
// A [Middleware] is a function that wraps a task handler. Middleware are
// composed into a chain using [Chain] and applied before each task executes.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs task name, resource, duration, and outcome
//   - [Recover]: turns handler panics into a [PanicError] so the task fails cleanly
//   - [Timeout]: cancels the task context after a fixed duration
//   - [Tracing]: wraps execution in an OpenTelemetry span tagged with the task's
//     reservation and [Outcome]
//   - [Metrics]: records per-task duration and outcome counters
//   - [Scope]: restores the submitting user into the context
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
