package reaper

import (
	"context"
	"time"
)

// Collections and time fields known to the reaper.
const (
	CollectionTasks   = "tasks"
	CollectionResults = "task_results"

	FieldFinishedAt = "finished_at"
	FieldCreatedAt  = "created_at"
)

// Store defines the persistence contract for retention cleanup.
type Store interface {
	// DeleteExpired removes documents of collection whose timeField is set
	// and earlier than before. Returns the number of documents deleted.
	DeleteExpired(ctx context.Context, collection, timeField string, before time.Time) (int64, error)
}
