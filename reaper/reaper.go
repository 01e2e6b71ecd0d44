// Package reaper deletes historical records once they outlive their
// retention window. Only the leader reaps; failures are logged and the
// targets are retried on the next cycle.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/observability"
)

// Target names a collection, the time field that ages its documents, and
// how long documents are kept.
type Target struct {
	Collection string
	TimeField  string
	Retention  time.Duration
}

// DefaultTargets returns the targets configured by cfg: finished tasks and
// archived task results.
func DefaultTargets(cfg tasking.Config) []Target {
	return []Target{
		{Collection: CollectionTasks, TimeField: FieldFinishedAt, Retention: cfg.TaskRetention},
		{Collection: CollectionResults, TimeField: FieldFinishedAt, Retention: cfg.ResultRetention},
	}
}

// Leadership reports whether this process may run leader duties.
type Leadership interface {
	IsLeader() bool
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// WithMetrics records deleted documents.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Reaper) { r.metrics = m }
}

// Reaper periodically deletes expired documents.
type Reaper struct {
	store    Store
	targets  []Target
	interval time.Duration

	logger  *slog.Logger
	now     func() time.Time
	metrics *observability.Metrics
}

// New creates a Reaper.
func New(store Store, targets []Target, interval time.Duration, opts ...Option) *Reaper {
	r := &Reaper{
		store:    store,
		targets:  targets,
		interval: interval,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reap runs one cycle over every target and returns the number of
// documents deleted per collection. A failing target does not stop the
// others.
func (r *Reaper) Reap(ctx context.Context) (map[string]int64, error) {
	now := r.now()
	deleted := make(map[string]int64, len(r.targets))
	var errs []error

	for _, t := range r.targets {
		if t.Retention <= 0 {
			continue
		}
		n, err := r.store.DeleteExpired(ctx, t.Collection, t.TimeField, now.Add(-t.Retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("reaper: %s: %w", t.Collection, err))
			continue
		}
		deleted[t.Collection] += n
		r.metrics.RecordsReaped(ctx, t.Collection, n)
		if n > 0 {
			r.logger.Info("reaped expired records",
				slog.String("collection", t.Collection),
				slog.Int64("deleted", n),
				slog.Duration("retention", t.Retention),
			)
		}
	}
	return deleted, errors.Join(errs...)
}

// Run reaps every interval while leader allows it, until ctx is done.
func (r *Reaper) Run(ctx context.Context, leader Leadership) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !leader.IsLeader() {
				continue
			}
			if _, err := r.Reap(ctx); err != nil {
				r.logger.Error("reap failed", slog.String("error", err.Error()))
			}
		}
	}
}
