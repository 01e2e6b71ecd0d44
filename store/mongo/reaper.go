package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/pulp/tasking/reaper"
)

// DeleteExpired removes tasks or results whose timeField is earlier than
// before. Documents without the field (unfinished tasks) never match.
func (s *Store) DeleteExpired(ctx context.Context, collection, timeField string, before time.Time) (int64, error) {
	var col string
	switch collection {
	case reaper.CollectionTasks:
		if timeField != reaper.FieldFinishedAt && timeField != reaper.FieldCreatedAt {
			return 0, fmt.Errorf("tasking/mongo: unsupported field %q for %s", timeField, collection)
		}
		col = colTasks
	case reaper.CollectionResults:
		if timeField != reaper.FieldFinishedAt {
			return 0, fmt.Errorf("tasking/mongo: unsupported field %q for %s", timeField, collection)
		}
		col = colResults
	default:
		return 0, fmt.Errorf("tasking/mongo: unknown collection %q", collection)
	}

	res, err := s.db.Collection(col).DeleteMany(ctx, bson.M{timeField: bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("tasking/mongo: delete expired %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}
