package cron

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry represents a scheduled periodic task.
type Entry struct {
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	TaskName   string     `json:"task_name"`
	ResourceID string     `json:"resource_id,omitempty"`
	Payload    []byte     `json:"payload,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
}

// Definition is a typed cron definition. T is the payload type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// TaskName is the name of the task to dispatch on each tick.
	TaskName string

	// ResourceID is the resource each fired task reserves (optional).
	ResourceID string

	// Payload is the payload dispatched with each task.
	Payload T
}

// Entry encodes the definition's payload and returns the untyped entry.
func (d Definition[T]) Entry() (Entry, error) {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("cron: marshal payload for %q: %w", d.Name, err)
	}
	return Entry{
		Name:       d.Name,
		Schedule:   d.Schedule,
		TaskName:   d.TaskName,
		ResourceID: d.ResourceID,
		Payload:    payload,
	}, nil
}
