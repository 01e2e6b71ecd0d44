// Package task defines the task record the coordinator reads and
// transitions, the persistence contract for it, and the registry that maps
// task names to handlers on worker processes.
//
// The task's business payload is opaque to tasking. Only the fields needed
// for routing, recovery, and reservation release are interpreted.
package task
