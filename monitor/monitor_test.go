package monitor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/broker"
	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/monitor"
	"github.com/pulp/tasking/router"
	"github.com/pulp/tasking/store/memory"
	"github.com/pulp/tasking/task"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	w1 = "reserved_resource_worker-1@host"
	w2 = "reserved_resource_worker-2@host"
)

func TestCheck_MissingWorkerReclaimed(t *testing.T) {
	ctx := context.Background()
	now := t0
	clock := func() time.Time { return now }

	s := memory.New(memory.WithClock(clock))
	r := router.New(s, broker.NewMemory(), router.WithClock(clock), router.WithWorkerTimeout(25*time.Second))
	m := monitor.New(s, r, 25*time.Second, 5*time.Second, monitor.WithClock(clock))

	// Both workers heartbeat; W1 takes two tasks on repoA.
	_ = s.Heartbeat(ctx, w1, now)
	_ = s.Heartbeat(ctx, w2, now)
	a, err := r.Dispatch(ctx, router.Request{Name: "sync", ResourceID: "repoA"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Dispatch(ctx, router.Request{Name: "sync", ResourceID: "repoA"})
	if err != nil {
		t.Fatal(err)
	}
	if a.WorkerName != w1 || b.WorkerName != w1 {
		t.Fatalf("expected repoA on %s", w1)
	}

	// W1 falls silent; W2 keeps beating every 5s. After 30s W1 is missing.
	for i := 1; i <= 6; i++ {
		now = t0.Add(time.Duration(i) * 5 * time.Second)
		_ = s.Heartbeat(ctx, w2, now)
	}

	removed, err := m.Check(ctx)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(removed) != 1 || removed[0] != w1 {
		t.Fatalf("removed %v, want [%s]", removed, w1)
	}
	for _, tk := range []*task.Task{a, b} {
		got, _ := s.GetTask(ctx, tk.ID)
		if got.State != task.StateCanceled {
			t.Fatalf("task %s state = %s, want canceled", tk.ID, got.State)
		}
	}
	if held, _ := s.ListReservationsByWorker(ctx, w1); len(held) != 0 {
		t.Fatalf("w1 still holds %d reservations", len(held))
	}
	if _, err := s.GetWorker(ctx, w1); !errors.Is(err, tasking.ErrWorkerNotFound) {
		t.Fatalf("w1 should be removed, got %v", err)
	}
	if _, err := s.GetWorker(ctx, w2); err != nil {
		t.Fatalf("w2 should remain: %v", err)
	}

	// repoA is free again and goes to the surviving worker.
	next, err := r.Dispatch(ctx, router.Request{Name: "sync", ResourceID: "repoA"})
	if err != nil {
		t.Fatal(err)
	}
	if next.WorkerName != w2 {
		t.Fatalf("repoA routed to %s, want %s", next.WorkerName, w2)
	}

	// Re-running is harmless.
	removed, err = m.Check(ctx)
	if err != nil || len(removed) != 0 {
		t.Fatalf("second Check = %v, %v", removed, err)
	}
}

func TestCheck_ScenarioSilentWorker(t *testing.T) {
	// H=5s, T=25s: W1 last beat 30s ago with reservations on repoA and repoB.
	ctx := context.Background()
	now := t0.Add(30 * time.Second)
	clock := func() time.Time { return now }

	s := memory.New(memory.WithClock(clock))
	r := router.New(s, broker.NewMemory(), router.WithClock(clock))
	m := monitor.New(s, r, 25*time.Second, 5*time.Second, monitor.WithClock(clock))

	_ = s.Heartbeat(ctx, w1, now)
	a, _ := r.Dispatch(ctx, router.Request{Name: "sync", ResourceID: "repoA"})
	b, _ := r.Dispatch(ctx, router.Request{Name: "sync", ResourceID: "repoB"})
	_ = s.Heartbeat(ctx, w1, t0) // the last beat was at t0

	if _, err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	for _, tk := range []*task.Task{a, b} {
		got, _ := s.GetTask(ctx, tk.ID)
		if got.State != task.StateCanceled {
			t.Fatalf("%s state = %s, want canceled", tk.ResourceID, got.State)
		}
		if _, err := s.GetReservation(ctx, tk.ID); !errors.Is(err, tasking.ErrReservationNotFound) {
			t.Fatalf("%s reservation not deleted", tk.ResourceID)
		}
	}
}

func TestCheck_SpecialWorkerOnlyRemoved(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	canceler := &countingCanceler{}
	m := monitor.New(s, canceler, 25*time.Second, time.Second, monitor.WithClock(func() time.Time { return t0 }))

	_ = s.Heartbeat(ctx, cluster.Name(cluster.RoleScheduler, "old"), t0.Add(-time.Minute))

	removed, err := m.Check(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 {
		t.Fatalf("removed %v", removed)
	}
	if canceler.calls.Load() != 0 {
		t.Fatal("special workers hold no reservations and must not be canceled")
	}
}

func TestCheck_FailedReclaimKeepsWorker(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	canceler := &countingCanceler{err: errors.New("store down")}
	m := monitor.New(s, canceler, 25*time.Second, time.Second, monitor.WithClock(func() time.Time { return t0 }))

	_ = s.Heartbeat(ctx, w1, t0.Add(-time.Minute))

	if _, err := m.Check(ctx); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.GetWorker(ctx, w1); err != nil {
		t.Fatal("worker must stay registered so the next check retries")
	}
}

type missingExt struct {
	workers []string
}

func (e *missingExt) Name() string { return "missing" }

func (e *missingExt) OnWorkerMissing(_ context.Context, worker string, _ int) error {
	e.workers = append(e.workers, worker)
	return nil
}

func TestCheck_NotifiesExtensions(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &missingExt{}
	m := monitor.New(s, &countingCanceler{}, 25*time.Second, time.Second,
		monitor.WithClock(func() time.Time { return t0 }),
		monitor.WithExtensions(ext.NewRegistry(nil, rec)),
	)

	_ = s.Heartbeat(ctx, w1, t0.Add(-time.Minute))
	_ = s.Heartbeat(ctx, w2, t0)

	if _, err := m.Check(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.workers) != 1 || rec.workers[0] != w1 {
		t.Fatalf("notified %v, want [%s]", rec.workers, w1)
	}
}

type countingCanceler struct {
	calls atomic.Int32
	err   error
}

func (c *countingCanceler) CancelWorker(context.Context, string) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

type staticLeader bool

func (l staticLeader) IsLeader() bool { return bool(l) }

func TestRun_OnlyWhileLeader(t *testing.T) {
	s := memory.New()
	_ = s.Heartbeat(context.Background(), w1, time.Now().UTC().Add(-time.Hour))

	canceler := &countingCanceler{}
	m := monitor.New(s, canceler, 25*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx, staticLeader(false)); err != nil {
		t.Fatal(err)
	}
	if canceler.calls.Load() != 0 {
		t.Fatal("non-leader must not reclaim workers")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if err := m.Run(ctx2, staticLeader(true)); err != nil {
		t.Fatal(err)
	}
	if canceler.calls.Load() == 0 {
		t.Fatal("leader should reclaim the stale worker")
	}
}
