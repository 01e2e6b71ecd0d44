package cluster

import (
	"fmt"
	"strings"
	"time"
)

// QueueSuffix marks a worker's dedicated queue.
const QueueSuffix = ".dq"

// Process roles used to derive worker names.
const (
	RoleWorker          = "reserved_resource_worker"
	RoleScheduler       = "scheduler"
	RoleResourceManager = "resource_manager"
)

// Worker is one worker process as seen by the registry.
type Worker struct {
	Name          string    `json:"name"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Name builds a worker name from a role and hostname.
func Name(role, hostname string) string {
	return role + "@" + hostname
}

// WorkerName builds the name of the n-th ordinary worker on hostname.
func WorkerName(n int, hostname string) string {
	return Name(fmt.Sprintf("%s-%d", RoleWorker, n), hostname)
}

// QueueName returns the dedicated queue consumed by the named worker.
func QueueName(name string) string {
	return name + QueueSuffix
}

// IsSpecial reports whether name belongs to the scheduler or the resource
// manager. Special workers never receive tasks.
func IsSpecial(name string) bool {
	return strings.HasPrefix(name, RoleScheduler+"@") ||
		strings.HasPrefix(name, RoleResourceManager+"@")
}

// QueueName returns the worker's dedicated queue.
func (w *Worker) QueueName() string { return QueueName(w.Name) }

// IsMissing reports whether the worker's last heartbeat is older than
// timeout at now.
func (w *Worker) IsMissing(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > timeout
}
