//go:build integration

package mongo_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mongomodule "github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/leader"
	"github.com/pulp/tasking/reaper"
	"github.com/pulp/tasking/reservation"
	"github.com/pulp/tasking/store/mongo"
	"github.com/pulp/tasking/task"
)

// setupTestStore starts a MongoDB container and returns a migrated Store on
// a fresh database.
func setupTestStore(t *testing.T) *mongo.Store {
	t.Helper()

	ctx := context.Background()

	container, err := mongomodule.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := mongo.Connect(ctx, uri, "tasking_test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if migErr := s.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return s
}

func newTask(resource string) *task.Task {
	return &task.Task{
		Entity:     tasking.NewEntity(),
		ID:         id.NewTaskID(),
		Name:       "sync",
		State:      task.StateWaiting,
		ResourceID: resource,
		Payload:    []byte(`{"remote":"origin"}`),
		User:       "alice",
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_PingAndMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Task Store tests
// ──────────────────────────────────────────────────

func TestTaskStore_CreateGetTransition(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tk := newTask("repoA")
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.CreateTask(ctx, tk); !errors.Is(err, tasking.ErrTaskAlreadyExists) {
		t.Fatalf("duplicate create: expected ErrTaskAlreadyExists, got %v", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != "sync" || got.User != "alice" || string(got.Payload) != `{"remote":"origin"}` {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	running, err := s.TransitionTask(ctx, tk.ID, task.Transition{
		From:       []task.State{task.StateWaiting},
		To:         task.StateRunning,
		WorkerName: "w1",
	})
	if err != nil {
		t.Fatalf("TransitionTask: %v", err)
	}
	if running.State != task.StateRunning || running.WorkerName != "w1" || running.StartedAt == nil {
		t.Fatalf("after transition: %+v", running)
	}

	_, err = s.TransitionTask(ctx, tk.ID, task.Transition{
		From: []task.State{task.StateWaiting},
		To:   task.StateCanceled,
	})
	if !errors.Is(err, tasking.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	_, err = s.TransitionTask(ctx, id.NewTaskID(), task.Transition{From: task.IncompleteStates, To: task.StateCanceled})
	if !errors.Is(err, tasking.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	failed, err := s.TransitionTask(ctx, tk.ID, task.Transition{
		From:  []task.State{task.StateRunning},
		To:    task.StateFailed,
		Error: "boom",
	})
	if err != nil {
		t.Fatal(err)
	}
	if failed.FinishedAt == nil || failed.Error != "boom" {
		t.Fatalf("after fail: %+v", failed)
	}
}

func TestTaskStore_UnassignedAndByWorker(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, b := newTask(""), newTask("")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	for _, tk := range []*task.Task{b, a} {
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	waiting, err := s.ListUnassignedTasks(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 2 || waiting[0].ID.String() != a.ID.String() {
		t.Fatalf("unassigned = %v, want a then b", waiting)
	}

	if _, err := s.TransitionTask(ctx, a.ID, task.Transition{
		From: []task.State{task.StateWaiting}, To: task.StateWaiting, WorkerName: "w1",
	}); err != nil {
		t.Fatal(err)
	}
	assigned, err := s.ListTasksByWorker(ctx, "w1", task.IncompleteStates)
	if err != nil {
		t.Fatal(err)
	}
	if len(assigned) != 1 || assigned[0].ID.String() != a.ID.String() {
		t.Fatalf("by worker = %v", assigned)
	}

	if _, err := s.TransitionTask(ctx, a.ID, task.Transition{
		From: []task.State{task.StateWaiting}, To: task.StateWaiting, ClearWorker: true,
	}); err != nil {
		t.Fatal(err)
	}
	waiting, _ = s.ListUnassignedTasks(ctx, 1)
	if len(waiting) != 1 || waiting[0].ID.String() != a.ID.String() {
		t.Fatalf("cleared task not unassigned: %v", waiting)
	}
}

func TestTaskStore_UnassignedByResource(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, b, other := newTask("repoA"), newTask("repoA"), newTask("repoB")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	for _, tk := range []*task.Task{b, other, a} {
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListUnassignedTasksByResource(ctx, "repoA")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID.String() != a.ID.String() || got[1].ID.String() != b.ID.String() {
		t.Fatalf("parked on repoA = %v, want a then b", got)
	}
}

func TestTaskStore_Results(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	tk := newTask("")
	tk.State = task.StateCompleted
	tk.FinishedAt = &now
	if err := s.SaveResult(ctx, task.NewResult(tk)); err != nil {
		t.Fatal(err)
	}
	results, err := s.ListResults(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].State != task.StateCompleted {
		t.Fatalf("results = %v", results)
	}
}

// ──────────────────────────────────────────────────
// Cluster Store tests
// ──────────────────────────────────────────────────

func TestClusterStore_HeartbeatAndStale(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.Heartbeat(ctx, "w1", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.Heartbeat(ctx, "w2", now); err != nil {
		t.Fatal(err)
	}

	stale, err := s.ListStaleWorkers(ctx, now.Add(-25*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].Name != "w1" {
		t.Fatalf("stale = %v", stale)
	}

	if err := s.Heartbeat(ctx, "w1", now); err != nil {
		t.Fatal(err)
	}
	w, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if !w.LastHeartbeat.Equal(now) {
		t.Fatalf("LastHeartbeat = %v, want %v", w.LastHeartbeat, now)
	}

	if err := s.DeleteWorker(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteWorker(ctx, "w1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.GetWorker(ctx, "w1"); !errors.Is(err, tasking.ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
	all, _ := s.ListWorkers(ctx)
	if len(all) != 1 || all[0].Name != "w2" {
		t.Fatalf("workers = %v", all)
	}
}

// ──────────────────────────────────────────────────
// Reservation Store tests
// ──────────────────────────────────────────────────

func TestReservationStore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r1 := &reservation.ReservedResource{TaskID: id.NewTaskID(), WorkerName: "w1", ResourceID: "repoA", ReservedAt: now}
	r2 := &reservation.ReservedResource{TaskID: id.NewTaskID(), WorkerName: "w1", ResourceID: "repoA", ReservedAt: now.Add(time.Second)}
	r3 := &reservation.ReservedResource{TaskID: id.NewTaskID(), WorkerName: "w2", ResourceID: "repoB", ReservedAt: now}
	for _, r := range []*reservation.ReservedResource{r2, r1, r3} {
		if err := s.InsertReservation(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.InsertReservation(ctx, r1); !errors.Is(err, tasking.ErrReservationAlreadyExists) {
		t.Fatalf("expected ErrReservationAlreadyExists, got %v", err)
	}

	held, err := s.ListReservationsByResource(ctx, "repoA")
	if err != nil {
		t.Fatal(err)
	}
	if len(held) != 2 || held[0].TaskID.String() != r1.TaskID.String() {
		t.Fatalf("repoA holders = %v", held)
	}

	counts, err := s.CountReservationsByWorker(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["w1"] != 2 || counts["w2"] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	if err := s.DeleteReservation(ctx, r1.TaskID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteReservation(ctx, r1.TaskID); err != nil {
		t.Fatalf("idempotent delete: %v", err)
	}
	if _, err := s.GetReservation(ctx, r1.TaskID); !errors.Is(err, tasking.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
	byWorker, _ := s.ListReservationsByWorker(ctx, "w1")
	if len(byWorker) != 1 || byWorker[0].TaskID.String() != r2.TaskID.String() {
		t.Fatalf("w1 reservations = %v", byWorker)
	}
}

// ──────────────────────────────────────────────────
// Leader Store tests
// ──────────────────────────────────────────────────

func TestLeaderStore_TakeoverOfExpiredLock(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Millisecond)
	maxAge := 200 * time.Second

	ok, err := s.AcquireLock(ctx, "p1", t0, maxAge)
	if err != nil || !ok {
		t.Fatalf("p1 acquire = %v, %v", ok, err)
	}
	if ok, _ := s.AcquireLock(ctx, "p2", t0.Add(100*time.Second), maxAge); ok {
		t.Fatal("p2 acquired a live lock")
	}

	ok, err = s.AcquireLock(ctx, "p2", t0.Add(250*time.Second), maxAge)
	if err != nil || !ok {
		t.Fatalf("p2 takeover = %v, %v", ok, err)
	}
	if renewed, _ := s.RenewLock(ctx, "p1", t0.Add(251*time.Second)); renewed {
		t.Fatal("demoted holder renewed")
	}

	l, err := s.GetLock(ctx)
	if err != nil || l == nil || l.Holder != "p2" {
		t.Fatalf("lock = %+v, %v", l, err)
	}

	if err := s.ReleaseLock(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if l, _ := s.GetLock(ctx); l == nil {
		t.Fatal("non-holder release removed the lock")
	}
	if err := s.ReleaseLock(ctx, "p2"); err != nil {
		t.Fatal(err)
	}
	if l, _ := s.GetLock(ctx); l != nil {
		t.Fatalf("lock survived release: %+v", l)
	}
}

func TestLeaderStore_ConcurrentAcquireHasOneWinner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AcquireLock(ctx, leader.NewHolderID("resource_manager@host"), now, time.Minute)
			if err != nil {
				t.Errorf("AcquireLock: %v", err)
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("%d winners, want 1", winners.Load())
	}
}

// ──────────────────────────────────────────────────
// Reaper Store tests
// ──────────────────────────────────────────────────

func TestReaperStore_DeleteExpired(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-96 * time.Hour)
	finishedOld := newTask("")
	finishedOld.State = task.StateCompleted
	finishedOld.FinishedAt = &old
	finishedNew := newTask("")
	finishedNew.State = task.StateCompleted
	finishedNew.FinishedAt = &now
	unfinished := newTask("")
	unfinished.CreatedAt = old

	for _, tk := range []*task.Task{finishedOld, finishedNew, unfinished} {
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.DeleteExpired(ctx, reaper.CollectionTasks, reaper.FieldFinishedAt, now.Add(-72*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	if _, err := s.GetTask(ctx, unfinished.ID); err != nil {
		t.Fatalf("unfinished task reaped: %v", err)
	}

	if _, err := s.DeleteExpired(ctx, "nope", reaper.FieldFinishedAt, now); err == nil {
		t.Fatal("expected error for unknown collection")
	}
}
