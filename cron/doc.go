// Package cron dispatches periodic tasks on a schedule.
//
// Entries are registered at startup and fired only by the process holding
// the scheduler lock, so a periodic task is dispatched once per occurrence
// even when several coordinator processes are running. Each firing goes
// through the router like any other task, so periodic tasks on a resource
// are serialized with everything else touching it.
//
// # Entry
//
// An [Entry] represents a recurring task:
//   - Schedule: standard cron expression (e.g., "0 9 * * 1-5") or a
//     descriptor such as "@every 30s" or "@daily"
//   - TaskName: the registered handler to run when fired
//   - ResourceID: optional resource the task reserves
//   - Payload: static payload passed to every fired task
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick while leader,
// dispatches the corresponding task, and advances LastRunAt and NextRunAt.
// Entries that came due while another process led fire once on the first
// tick after leadership is gained.
package cron
