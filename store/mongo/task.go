package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/task"
)

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.Collection(colTasks).InsertOne(ctx, toTaskModel(t))
	if err != nil {
		if isDuplicateKey(err) {
			return tasking.ErrTaskAlreadyExists
		}
		return fmt.Errorf("tasking/mongo: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var m taskModel
	err := s.db.Collection(colTasks).FindOne(ctx, bson.M{"_id": taskID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tasking.ErrTaskNotFound
		}
		return nil, fmt.Errorf("tasking/mongo: get task: %w", err)
	}
	return fromTaskModel(&m)
}

// TransitionTask applies tr with a single conditional update: the filter
// carries the state precondition and only the named fields are set.
func (s *Store) TransitionTask(ctx context.Context, taskID id.TaskID, tr task.Transition) (*task.Task, error) {
	t := s.now()

	from := make([]string, len(tr.From))
	for i, st := range tr.From {
		from[i] = string(st)
	}
	filter := bson.M{
		"_id":   taskID.String(),
		"state": bson.M{"$in": from},
	}

	set := bson.M{
		"state":      string(tr.To),
		"updated_at": t,
	}
	if tr.WorkerName != "" {
		set["worker_name"] = tr.WorkerName
	}
	if tr.Error != "" {
		set["error"] = tr.Error
	}
	if tr.To == task.StateRunning {
		set["started_at"] = t
	}
	if tr.To.IsFinal() {
		set["finished_at"] = t
	}
	update := bson.M{"$set": set}
	if tr.WorkerName == "" && tr.ClearWorker {
		update["$unset"] = bson.M{"worker_name": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m taskModel
	err := s.db.Collection(colTasks).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return fromTaskModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("tasking/mongo: transition task: %w", err)
	}

	// Distinguish a missing task from a failed precondition.
	current, getErr := s.GetTask(ctx, taskID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: task %s is %s, want one of %v",
		tasking.ErrInvalidState, taskID, current.State, tr.From)
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	if _, err := s.db.Collection(colTasks).DeleteOne(ctx, bson.M{"_id": taskID.String()}); err != nil {
		return fmt.Errorf("tasking/mongo: delete task: %w", err)
	}
	return nil
}

// ListTasksByWorker returns tasks assigned to worker in any of states,
// oldest first.
func (s *Store) ListTasksByWorker(ctx context.Context, worker string, states []task.State) ([]*task.Task, error) {
	filter := bson.M{"worker_name": worker}
	if len(states) > 0 {
		in := make([]string, len(states))
		for i, st := range states {
			in[i] = string(st)
		}
		filter["state"] = bson.M{"$in": in}
	}
	return s.findTasks(ctx, filter, 0)
}

// ListUnassignedTasks returns up to limit waiting tasks with no worker,
// oldest first.
func (s *Store) ListUnassignedTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	filter := bson.M{
		"state":       string(task.StateWaiting),
		"worker_name": bson.M{"$in": bson.A{nil, ""}},
	}
	return s.findTasks(ctx, filter, limit)
}

// ListUnassignedTasksByResource returns the waiting tasks with no worker
// that need resourceID, oldest first.
func (s *Store) ListUnassignedTasksByResource(ctx context.Context, resourceID string) ([]*task.Task, error) {
	filter := bson.M{
		"state":       string(task.StateWaiting),
		"resource_id": resourceID,
		"worker_name": bson.M{"$in": bson.A{nil, ""}},
	}
	return s.findTasks(ctx, filter, 0)
}

func (s *Store) findTasks(ctx context.Context, filter bson.M, limit int) ([]*task.Task, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(colTasks).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: list tasks: %w", err)
	}
	return decodeTasks(ctx, cursor)
}

func decodeTasks(ctx context.Context, cursor *mongod.Cursor) ([]*task.Task, error) {
	defer cursor.Close(ctx)

	var models []taskModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tasking/mongo: decode tasks: %w", err)
	}

	tasks := make([]*task.Task, 0, len(models))
	for i := range models {
		t, err := fromTaskModel(&models[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// SaveResult archives the outcome of a finished task.
func (s *Store) SaveResult(ctx context.Context, r *task.Result) error {
	if _, err := s.db.Collection(colResults).InsertOne(ctx, toResultModel(r)); err != nil {
		return fmt.Errorf("tasking/mongo: save result: %w", err)
	}
	return nil
}

// ListResults returns archived results for a task, oldest first.
func (s *Store) ListResults(ctx context.Context, taskID id.TaskID) ([]*task.Result, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "finished_at", Value: 1}})
	cursor, err := s.db.Collection(colResults).Find(ctx, bson.M{"task_id": taskID.String()}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("tasking/mongo: list results: %w", err)
	}
	defer cursor.Close(ctx)

	var models []resultModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tasking/mongo: decode results: %w", err)
	}

	results := make([]*task.Result, 0, len(models))
	for i := range models {
		r, err := fromResultModel(&models[i])
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
