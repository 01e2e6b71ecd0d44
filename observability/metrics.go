package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for tasking metrics.
const meterName = "github.com/pulp/tasking"

// Dispatch outcomes recorded by TaskDispatched.
const (
	OutcomeRouted    = "routed"
	OutcomeParked    = "parked"
	OutcomeNoWorkers = "no_workers"
	OutcomeError     = "error"
)

// Metrics holds the coordinator instruments.
type Metrics struct {
	dispatched     metric.Int64Counter
	conflicts      metric.Int64Counter
	missingWorkers metric.Int64Counter
	canceledTasks  metric.Int64Counter
	reaped         metric.Int64Counter
	leadership     metric.Int64UpDownCounter
}

// NewMetrics creates Metrics from the global MeterProvider.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates Metrics from the given meter.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	// On error the OTel API returns noop instruments, so errors are ignored.
	dispatched, _ := meter.Int64Counter(
		"tasking.router.dispatched",
		metric.WithDescription("Tasks handled by the router, by outcome"),
		metric.WithUnit("{task}"),
	)
	conflicts, _ := meter.Int64Counter(
		"tasking.router.reservation_conflicts",
		metric.WithDescription("Reservation claims that lost a race and were retried"),
		metric.WithUnit("{conflict}"),
	)
	missing, _ := meter.Int64Counter(
		"tasking.monitor.missing_workers",
		metric.WithDescription("Workers classified as missing by the heartbeat monitor"),
		metric.WithUnit("{worker}"),
	)
	canceled, _ := meter.Int64Counter(
		"tasking.monitor.canceled_tasks",
		metric.WithDescription("Tasks canceled because their worker went missing"),
		metric.WithUnit("{task}"),
	)
	reaped, _ := meter.Int64Counter(
		"tasking.reaper.deleted",
		metric.WithDescription("Expired historical records deleted by the reaper"),
		metric.WithUnit("{record}"),
	)
	leadership, _ := meter.Int64UpDownCounter(
		"tasking.leader.held",
		metric.WithDescription("1 while this process holds the scheduler lock"),
		metric.WithUnit("{lock}"),
	)

	return &Metrics{
		dispatched:     dispatched,
		conflicts:      conflicts,
		missingWorkers: missing,
		canceledTasks:  canceled,
		reaped:         reaped,
		leadership:     leadership,
	}
}

// TaskDispatched records one routing decision.
func (m *Metrics) TaskDispatched(ctx context.Context, outcome string, reserved bool) {
	if m == nil {
		return
	}
	m.dispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("reserved", reserved),
	))
}

// ReservationConflict records a lost reservation race.
func (m *Metrics) ReservationConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1)
}

// WorkerMissing records a missing worker and how many of its tasks were
// canceled.
func (m *Metrics) WorkerMissing(ctx context.Context, canceled int) {
	if m == nil {
		return
	}
	m.missingWorkers.Add(ctx, 1)
	if canceled > 0 {
		m.canceledTasks.Add(ctx, int64(canceled))
	}
}

// RecordsReaped records deletions from one collection.
func (m *Metrics) RecordsReaped(ctx context.Context, collection string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.reaped.Add(ctx, n, metric.WithAttributes(attribute.String("collection", collection)))
}

// LeadershipChanged records gaining (held=true) or losing the lock.
func (m *Metrics) LeadershipChanged(ctx context.Context, held bool) {
	if m == nil {
		return
	}
	delta := int64(-1)
	if held {
		delta = 1
	}
	m.leadership.Add(ctx, delta)
}
