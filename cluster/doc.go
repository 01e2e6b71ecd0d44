// Package cluster is the worker registry: the durable record of every
// worker process's identity and last heartbeat.
//
// # Worker Names
//
// A worker's name is derived from its role and hostname as
// "<role>@<hostname>". Ordinary workers use the role
// "reserved_resource_worker-<n>". Each worker consumes a dedicated queue
// named "<name>.dq".
//
// Two roles are special: "scheduler" (the periodic-scheduler process) and
// "resource_manager" (the coordinator that routes tasks). They heartbeat
// into the same registry so their liveness is visible, but they are never
// chosen to run tasks.
//
// # Lifecycle
//
// A worker record is created by its first heartbeat, refreshed only by the
// worker itself, and deleted either by the worker on graceful shutdown or
// by the heartbeat monitor once the worker is confirmed missing.
package cluster
