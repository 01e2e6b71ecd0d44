package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/reservation"
)

// InsertReservation writes a new reservation. The task ID is the document
// key, so a second insert for the same task fails.
func (s *Store) InsertReservation(ctx context.Context, r *reservation.ReservedResource) error {
	_, err := s.db.Collection(colReservations).InsertOne(ctx, toReservationModel(r))
	if err != nil {
		if isDuplicateKey(err) {
			return tasking.ErrReservationAlreadyExists
		}
		return fmt.Errorf("tasking/mongo: insert reservation: %w", err)
	}
	return nil
}

// GetReservation returns the reservation held by a task.
func (s *Store) GetReservation(ctx context.Context, taskID id.TaskID) (*reservation.ReservedResource, error) {
	var m reservationModel
	err := s.db.Collection(colReservations).FindOne(ctx, bson.M{"_id": taskID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tasking.ErrReservationNotFound
		}
		return nil, fmt.Errorf("tasking/mongo: get reservation: %w", err)
	}
	return fromReservationModel(&m)
}

// DeleteReservation removes the reservation held by a task.
func (s *Store) DeleteReservation(ctx context.Context, taskID id.TaskID) error {
	if _, err := s.db.Collection(colReservations).DeleteOne(ctx, bson.M{"_id": taskID.String()}); err != nil {
		return fmt.Errorf("tasking/mongo: delete reservation: %w", err)
	}
	return nil
}

// ListReservationsByResource returns the open reservations on a resource,
// oldest first.
func (s *Store) ListReservationsByResource(ctx context.Context, resourceID string) ([]*reservation.ReservedResource, error) {
	return s.findReservations(ctx, bson.M{"resource_id": resourceID})
}

// ListReservationsByWorker returns the open reservations held by a worker,
// oldest first.
func (s *Store) ListReservationsByWorker(ctx context.Context, worker string) ([]*reservation.ReservedResource, error) {
	return s.findReservations(ctx, bson.M{"worker_name": worker})
}

// CountReservationsByWorker returns open reservation counts per worker.
func (s *Store) CountReservationsByWorker(ctx context.Context) (map[string]int, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$worker_name"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.db.Collection(colReservations).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: count reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Worker string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("tasking/mongo: decode reservation counts: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Worker] = r.Count
	}
	return counts, nil
}

func (s *Store) findReservations(ctx context.Context, filter bson.M) ([]*reservation.ReservedResource, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "reserved_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	cursor, err := s.db.Collection(colReservations).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: list reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var models []reservationModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tasking/mongo: decode reservations: %w", err)
	}

	out := make([]*reservation.ReservedResource, 0, len(models))
	for i := range models {
		r, err := fromReservationModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
