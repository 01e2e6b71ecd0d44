// Package monitor detects workers that stopped heartbeating and reclaims
// their work.
//
// A worker is missing once its last heartbeat is older than the worker
// timeout. For each missing worker the monitor cancels the worker's
// incomplete tasks, releases its reservations, and removes it from the
// registry. Every step is idempotent, so two processes briefly both
// believing they lead do no harm.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/observability"
)

// Canceler reclaims the work of a gone worker. *router.Router satisfies
// this interface.
type Canceler interface {
	CancelWorker(ctx context.Context, worker string) (int, error)
}

// Leadership reports whether this process may run leader duties.
// *leader.Elector satisfies this interface.
type Leadership interface {
	IsLeader() bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithMetrics records missing workers and canceled tasks.
func WithMetrics(mt *observability.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithExtensions notifies exts of every removed worker.
func WithExtensions(exts *ext.Registry) Option {
	return func(m *Monitor) { m.exts = exts }
}

// Monitor is the heartbeat monitor.
type Monitor struct {
	store    cluster.Store
	canceler Canceler
	timeout  time.Duration
	interval time.Duration

	logger  *slog.Logger
	now     func() time.Time
	metrics *observability.Metrics
	exts    *ext.Registry
}

// New creates a Monitor. timeout is the worker timeout; interval is how
// often Run checks.
func New(store cluster.Store, canceler Canceler, timeout, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		canceler: canceler,
		timeout:  timeout,
		interval: interval,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check performs one scan and returns the names of the workers it removed.
// A worker whose cleanup fails stays registered and is retried next time.
func (m *Monitor) Check(ctx context.Context) ([]string, error) {
	cutoff := m.now().Add(-m.timeout)
	stale, err := m.store.ListStaleWorkers(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("monitor: list stale workers: %w", err)
	}

	var (
		removed []string
		errs    []error
	)
	for _, w := range stale {
		canceled := 0
		if !cluster.IsSpecial(w.Name) {
			canceled, err = m.canceler.CancelWorker(ctx, w.Name)
			if err != nil {
				errs = append(errs, fmt.Errorf("monitor: reclaim %s: %w", w.Name, err))
				continue
			}
		}
		if err := m.store.DeleteWorker(ctx, w.Name); err != nil {
			errs = append(errs, fmt.Errorf("monitor: delete %s: %w", w.Name, err))
			continue
		}

		m.metrics.WorkerMissing(ctx, canceled)
		m.exts.EmitWorkerMissing(ctx, w.Name, canceled)
		m.logger.Warn("worker missing, removed",
			slog.String("worker", w.Name),
			slog.Time("last_heartbeat", w.LastHeartbeat),
			slog.Int("canceled_tasks", canceled),
		)
		removed = append(removed, w.Name)
	}
	return removed, errors.Join(errs...)
}

// Run checks every interval while leader allows it, until ctx is done.
// Errors are logged and retried on the next tick.
func (m *Monitor) Run(ctx context.Context, leader Leadership) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !leader.IsLeader() {
				continue
			}
			if _, err := m.Check(ctx); err != nil {
				m.logger.Error("heartbeat monitor check failed", slog.String("error", err.Error()))
			}
		}
	}
}
