package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/leader"
	"github.com/pulp/tasking/reaper"
	"github.com/pulp/tasking/reservation"
	"github.com/pulp/tasking/task"
)

// Collection name constants.
const (
	colWorkers      = "workers"
	colReservations = "reserved_resources"
	colLock         = "scheduler_lock"
	colTasks        = "tasks"
	colResults      = "task_results"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ task.Store        = (*Store)(nil)
	_ cluster.Store     = (*Store)(nil)
	_ reservation.Store = (*Store)(nil)
	_ leader.Store      = (*Store)(nil)
	_ reaper.Store      = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client // set only when the Store owns the connection
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store on db. The caller owns the client lifecycle; Close
// does not disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a Store on database that owns the client.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("tasking/mongo: ping: %w", err)
	}
	s := New(client.Database(database), opts...)
	s.client = client
	return s, nil
}

// Database returns the underlying database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all tasking collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("tasking/mongo: migrate %s indexes: %w", col, err)
		}
	}
	s.logger.Debug("mongo indexes migrated", slog.String("database", s.db.Name()))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client if the Store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return err != nil && mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for all tasking collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colWorkers: {
			{Keys: bson.D{{Key: "last_heartbeat", Value: 1}}},
		},
		colReservations: {
			// Routing reads all holders of one resource.
			{Keys: bson.D{
				{Key: "resource_id", Value: 1},
				{Key: "reserved_at", Value: 1},
			}},
			// Load counting and worker cleanup.
			{Keys: bson.D{{Key: "worker_name", Value: 1}}},
		},
		colTasks: {
			{Keys: bson.D{
				{Key: "worker_name", Value: 1},
				{Key: "state", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			// Parked tasks a new dispatch must not overtake.
			{Keys: bson.D{
				{Key: "resource_id", Value: 1},
				{Key: "state", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "finished_at", Value: 1}}},
		},
		colResults: {
			{Keys: bson.D{{Key: "task_id", Value: 1}}},
			{Keys: bson.D{{Key: "finished_at", Value: 1}}},
		},
	}
}
