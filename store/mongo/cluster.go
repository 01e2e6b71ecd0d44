package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/cluster"
)

// Heartbeat upserts the worker record with its latest heartbeat.
func (s *Store) Heartbeat(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.Collection(colWorkers).UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": bson.M{"last_heartbeat": at}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("tasking/mongo: heartbeat: %w", err)
	}
	return nil
}

// GetWorker returns the named worker.
func (s *Store) GetWorker(ctx context.Context, name string) (*cluster.Worker, error) {
	var m workerModel
	err := s.db.Collection(colWorkers).FindOne(ctx, bson.M{"_id": name}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tasking.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("tasking/mongo: get worker: %w", err)
	}
	return fromWorkerModel(&m), nil
}

// ListWorkers returns all registered workers ordered by name.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	return s.findWorkers(ctx, bson.M{})
}

// ListStaleWorkers returns workers whose last heartbeat is before cutoff.
func (s *Store) ListStaleWorkers(ctx context.Context, cutoff time.Time) ([]*cluster.Worker, error) {
	return s.findWorkers(ctx, bson.M{"last_heartbeat": bson.M{"$lt": cutoff}})
}

// DeleteWorker removes a worker from the registry.
func (s *Store) DeleteWorker(ctx context.Context, name string) error {
	if _, err := s.db.Collection(colWorkers).DeleteOne(ctx, bson.M{"_id": name}); err != nil {
		return fmt.Errorf("tasking/mongo: delete worker: %w", err)
	}
	return nil
}

func (s *Store) findWorkers(ctx context.Context, filter bson.M) ([]*cluster.Worker, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(colWorkers).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: list workers: %w", err)
	}
	return decodeWorkers(ctx, cursor)
}

func decodeWorkers(ctx context.Context, cursor *mongod.Cursor) ([]*cluster.Worker, error) {
	defer cursor.Close(ctx)

	var models []workerModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tasking/mongo: decode workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		workers = append(workers, fromWorkerModel(&models[i]))
	}
	return workers, nil
}
