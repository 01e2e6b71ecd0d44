package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/id"
)

// ErrDuplicateEntry is returned when an entry name is registered twice.
var ErrDuplicateEntry = errors.New("cron: duplicate entry")

// DispatchFunc is the callback the scheduler uses to dispatch tasks.
// This breaks the import cycle: the engine provides the implementation.
type DispatchFunc func(ctx context.Context, taskName, resourceID string, payload []byte) (id.TaskID, error)

// Leadership reports whether this process may fire entries.
type Leadership interface {
	IsLeader() bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithExtensions notifies exts of every fired entry.
func WithExtensions(exts *ext.Registry) SchedulerOption {
	return func(s *Scheduler) { s.exts = exts }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type scheduled struct {
	entry    Entry
	schedule cronlib.Schedule
}

// Scheduler fires cron entries on a tick loop. Only the leader fires.
type Scheduler struct {
	dispatch DispatchFunc
	leader   Leadership
	logger   *slog.Logger
	now      func() time.Time
	exts     *ext.Registry

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*scheduled
}

// NewScheduler creates a Scheduler.
func NewScheduler(dispatch DispatchFunc, leader Leadership, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		dispatch:     dispatch,
		leader:       leader,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		tickInterval: time.Second,
		entries:      make(map[string]*scheduled),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers an entry. Its first run is the schedule's next occurrence
// after now.
func (s *Scheduler) Add(e Entry) error {
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("cron: parse schedule %q for %q: %w", e.Schedule, e.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Name)
	}
	next := sched.Next(s.now())
	e.NextRunAt = &next
	s.entries[e.Name] = &scheduled{entry: e, schedule: sched}
	return nil
}

// Register adds a typed definition.
func Register[T any](s *Scheduler, def Definition[T]) error {
	e, err := def.Entry()
	if err != nil {
		return err
	}
	return s.Add(e)
}

// Entries returns a snapshot of the registered entries ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, sc := range s.entries {
		out = append(out, sc.entry)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Run ticks every tick interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cron scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due entry if this process leads and returns how many
// fired.
func (s *Scheduler) Tick(ctx context.Context) int {
	if !s.leader.IsLeader() {
		return 0
	}

	now := s.now()

	s.mu.Lock()
	var due []*scheduled
	for _, sc := range s.entries {
		if sc.entry.NextRunAt != nil && !sc.entry.NextRunAt.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool { return due[i].entry.Name < due[k].entry.Name })

	fired := 0
	for _, sc := range due {
		if s.fire(ctx, sc, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, sc *scheduled, now time.Time) bool {
	e := sc.entry
	taskID, err := s.dispatch(ctx, e.TaskName, e.ResourceID, e.Payload)

	s.mu.Lock()
	next := sc.schedule.Next(now)
	sc.entry.NextRunAt = &next
	if err == nil {
		sc.entry.LastRunAt = &now
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cron dispatch error",
			slog.String("cron_name", e.Name),
			slog.String("task_name", e.TaskName),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("task_name", e.TaskName),
		slog.String("task_id", taskID.String()),
		slog.Time("next_run_at", next),
	)
	s.exts.EmitCronFired(ctx, e.Name, taskID)
	return true
}
