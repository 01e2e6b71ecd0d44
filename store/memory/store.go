package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/leader"
	"github.com/pulp/tasking/reaper"
	"github.com/pulp/tasking/reservation"
	"github.com/pulp/tasking/task"
)

// Ensure Store implements every subsystem store at compile time.
// We can't import store here (import cycle in tests), so we verify each
// subsystem.
var (
	_ task.Store        = (*Store)(nil)
	_ cluster.Store     = (*Store)(nil)
	_ reservation.Store = (*Store)(nil)
	_ leader.Store      = (*Store)(nil)
	_ reaper.Store      = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp task transitions.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	tasks        map[string]*task.Task
	results      map[string]*task.Result
	workers      map[string]*cluster.Worker
	reservations map[string]*reservation.ReservedResource
	lock         *leader.Lock

	now func() time.Time
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		tasks:        make(map[string]*task.Task),
		results:      make(map[string]*task.Result),
		workers:      make(map[string]*cluster.Worker),
		reservations: make(map[string]*reservation.ReservedResource),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Task Store
// ──────────────────────────────────────────────────

func copyTask(t *task.Task) *task.Task {
	cp := *t
	if t.Payload != nil {
		cp.Payload = slices.Clone(t.Payload)
	}
	return &cp
}

// CreateTask persists a new task.
func (m *Store) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return tasking.ErrTaskAlreadyExists
	}
	m.tasks[key] = copyTask(t)
	return nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, tasking.ErrTaskNotFound
	}
	return copyTask(t), nil
}

// TransitionTask applies tr if the task is in one of tr.From.
func (m *Store) TransitionTask(_ context.Context, taskID id.TaskID, tr task.Transition) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, tasking.ErrTaskNotFound
	}
	if !slices.Contains(tr.From, t.State) {
		return nil, fmt.Errorf("%w: task %s is %s, want one of %v",
			tasking.ErrInvalidState, taskID, t.State, tr.From)
	}

	now := m.now()
	t.State = tr.To
	t.UpdatedAt = now
	if tr.WorkerName != "" {
		t.WorkerName = tr.WorkerName
	} else if tr.ClearWorker {
		t.WorkerName = ""
	}
	if tr.Error != "" {
		t.Error = tr.Error
	}
	if tr.To == task.StateRunning {
		t.StartedAt = &now
	}
	if tr.To.IsFinal() {
		t.FinishedAt = &now
	}
	return copyTask(t), nil
}

// DeleteTask removes a task.
func (m *Store) DeleteTask(_ context.Context, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tasks, taskID.String())
	return nil
}

// ListTasksByWorker returns tasks assigned to worker in any of states,
// oldest first.
func (m *Store) ListTasksByWorker(_ context.Context, worker string, states []task.State) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*task.Task
	for _, t := range m.tasks {
		if t.WorkerName != worker {
			continue
		}
		if len(states) > 0 && !slices.Contains(states, t.State) {
			continue
		}
		result = append(result, copyTask(t))
	}
	sortTasks(result)
	return result, nil
}

// ListUnassignedTasks returns up to limit waiting tasks with no worker,
// oldest first.
func (m *Store) ListUnassignedTasks(_ context.Context, limit int) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*task.Task
	for _, t := range m.tasks {
		if t.State == task.StateWaiting && t.WorkerName == "" {
			result = append(result, copyTask(t))
		}
	}
	sortTasks(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListUnassignedTasksByResource returns the waiting tasks with no worker
// that need resourceID, oldest first.
func (m *Store) ListUnassignedTasksByResource(_ context.Context, resourceID string) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*task.Task
	for _, t := range m.tasks {
		if t.State == task.StateWaiting && t.WorkerName == "" && t.ResourceID == resourceID {
			result = append(result, copyTask(t))
		}
	}
	sortTasks(result)
	return result, nil
}

// SaveResult archives the outcome of a finished task.
func (m *Store) SaveResult(_ context.Context, r *task.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.results[r.ID.String()] = &cp
	return nil
}

// ListResults returns archived results for a task.
func (m *Store) ListResults(_ context.Context, taskID id.TaskID) ([]*task.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*task.Result
	for _, r := range m.results {
		if r.TaskID.String() == taskID.String() {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].FinishedAt.Before(result[k].FinishedAt)
	})
	return result, nil
}

// sortTasks orders by creation time; TypeIDs are time-ordered so the ID
// breaks ties.
func sortTasks(ts []*task.Task) {
	sort.Slice(ts, func(i, k int) bool {
		if !ts[i].CreatedAt.Equal(ts[k].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[k].CreatedAt)
		}
		return ts[i].ID.String() < ts[k].ID.String()
	})
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// Heartbeat upserts the worker record.
func (m *Store) Heartbeat(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[name]
	if !ok {
		m.workers[name] = &cluster.Worker{Name: name, LastHeartbeat: at}
		return nil
	}
	w.LastHeartbeat = at
	return nil
}

// GetWorker returns the named worker.
func (m *Store) GetWorker(_ context.Context, name string) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[name]
	if !ok {
		return nil, tasking.ErrWorkerNotFound
	}
	cp := *w
	return &cp, nil
}

// ListWorkers returns all registered workers ordered by name.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Name < result[k].Name })
	return result, nil
}

// ListStaleWorkers returns workers whose last heartbeat is before cutoff.
func (m *Store) ListStaleWorkers(_ context.Context, cutoff time.Time) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*cluster.Worker
	for _, w := range m.workers {
		if w.LastHeartbeat.Before(cutoff) {
			cp := *w
			stale = append(stale, &cp)
		}
	}
	sort.Slice(stale, func(i, k int) bool { return stale[i].Name < stale[k].Name })
	return stale, nil
}

// DeleteWorker removes a worker from the registry.
func (m *Store) DeleteWorker(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workers, name)
	return nil
}

// ──────────────────────────────────────────────────
// Reservation Store
// ──────────────────────────────────────────────────

// InsertReservation writes a new reservation.
func (m *Store) InsertReservation(_ context.Context, r *reservation.ReservedResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.TaskID.String()
	if _, exists := m.reservations[key]; exists {
		return tasking.ErrReservationAlreadyExists
	}
	cp := *r
	m.reservations[key] = &cp
	return nil
}

// GetReservation returns the reservation held by a task.
func (m *Store) GetReservation(_ context.Context, taskID id.TaskID) (*reservation.ReservedResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[taskID.String()]
	if !ok {
		return nil, tasking.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

// DeleteReservation removes the reservation held by a task.
func (m *Store) DeleteReservation(_ context.Context, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.reservations, taskID.String())
	return nil
}

// ListReservationsByResource returns the open reservations on a resource,
// oldest first.
func (m *Store) ListReservationsByResource(_ context.Context, resourceID string) ([]*reservation.ReservedResource, error) {
	return m.filterReservations(func(r *reservation.ReservedResource) bool {
		return r.ResourceID == resourceID
	}), nil
}

// ListReservationsByWorker returns the open reservations held by a worker,
// oldest first.
func (m *Store) ListReservationsByWorker(_ context.Context, worker string) ([]*reservation.ReservedResource, error) {
	return m.filterReservations(func(r *reservation.ReservedResource) bool {
		return r.WorkerName == worker
	}), nil
}

// CountReservationsByWorker returns open reservation counts per worker.
func (m *Store) CountReservationsByWorker(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range m.reservations {
		counts[r.WorkerName]++
	}
	return counts, nil
}

func (m *Store) filterReservations(keep func(*reservation.ReservedResource) bool) []*reservation.ReservedResource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*reservation.ReservedResource
	for _, r := range m.reservations {
		if keep(r) {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].ReservedAt.Equal(result[k].ReservedAt) {
			return result[i].ReservedAt.Before(result[k].ReservedAt)
		}
		return result[i].TaskID.String() < result[k].TaskID.String()
	})
	return result
}

// ──────────────────────────────────────────────────
// Leader Store
// ──────────────────────────────────────────────────

// AcquireLock grants the lock to holder if it is free, expired, or
// already held by holder.
func (m *Store) AcquireLock(_ context.Context, holder string, now time.Time, maxAge time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock != nil && m.lock.Holder == holder {
		m.lock.RenewedAt = now
		return true, nil
	}
	if m.lock != nil && !m.lock.Expired(now, maxAge) {
		return false, nil
	}
	m.lock = &leader.Lock{Holder: holder, AcquiredAt: now, RenewedAt: now}
	return true, nil
}

// RenewLock refreshes the lock if holder still holds it.
func (m *Store) RenewLock(_ context.Context, holder string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil || m.lock.Holder != holder {
		return false, nil
	}
	m.lock.RenewedAt = now
	return true, nil
}

// ReleaseLock deletes the lock if holder holds it.
func (m *Store) ReleaseLock(_ context.Context, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock != nil && m.lock.Holder == holder {
		m.lock = nil
	}
	return nil
}

// GetLock returns the current lock, or nil if there is none.
func (m *Store) GetLock(_ context.Context) (*leader.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lock == nil {
		return nil, nil
	}
	cp := *m.lock
	return &cp, nil
}

// SetLock overwrites the lock record. Used to simulate another process
// holding the lock.
func (m *Store) SetLock(l *leader.Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l == nil {
		m.lock = nil
		return
	}
	cp := *l
	m.lock = &cp
}

// ──────────────────────────────────────────────────
// Reaper Store
// ──────────────────────────────────────────────────

// DeleteExpired removes tasks or results whose timeField is earlier than
// before.
func (m *Store) DeleteExpired(_ context.Context, collection, timeField string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	switch collection {
	case reaper.CollectionTasks:
		for key, t := range m.tasks {
			at, err := taskTime(t, timeField)
			if err != nil {
				return n, err
			}
			if at != nil && at.Before(before) {
				delete(m.tasks, key)
				n++
			}
		}
	case reaper.CollectionResults:
		if timeField != reaper.FieldFinishedAt {
			return 0, fmt.Errorf("tasking/memory: unsupported field %q for %s", timeField, collection)
		}
		for key, r := range m.results {
			if r.FinishedAt.Before(before) {
				delete(m.results, key)
				n++
			}
		}
	default:
		return 0, fmt.Errorf("tasking/memory: unknown collection %q", collection)
	}
	return n, nil
}

func taskTime(t *task.Task, field string) (*time.Time, error) {
	switch field {
	case reaper.FieldFinishedAt:
		return t.FinishedAt, nil
	case reaper.FieldCreatedAt:
		return &t.CreatedAt, nil
	default:
		return nil, fmt.Errorf("tasking/memory: unsupported field %q for %s", field, reaper.CollectionTasks)
	}
}
