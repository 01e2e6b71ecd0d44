package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/task"
)

var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.TaskDispatched = (*MetricsExtension)(nil)
	_ ext.TaskStarted    = (*MetricsExtension)(nil)
	_ ext.TaskFinished   = (*MetricsExtension)(nil)
	_ ext.WorkerMissing  = (*MetricsExtension)(nil)
	_ ext.CronFired      = (*MetricsExtension)(nil)
)

// MetricsExtension counts task and worker lifecycle events through a
// go-utils MetricFactory. Register it with the engine on coordinators and
// with worker.WithExtensions on workers; each process only fires the hooks
// it owns.
type MetricsExtension struct {
	TaskDispatched gu.Counter
	TaskStarted    gu.Counter
	TaskCompleted  gu.Counter
	TaskFailed     gu.Counter
	TaskSkipped    gu.Counter
	WorkerMissing  gu.Counter
	// OrphansCanceled counts tasks canceled because their worker went
	// missing.
	OrphansCanceled gu.Counter
	CronFired       gu.Counter
}

// NewMetricsExtension creates a MetricsExtension backed by a default
// collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("tasking/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension whose counters
// come from factory.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		TaskDispatched:  factory.Counter("tasking.task.dispatched"),
		TaskStarted:     factory.Counter("tasking.task.started"),
		TaskCompleted:   factory.Counter("tasking.task.completed"),
		TaskFailed:      factory.Counter("tasking.task.failed"),
		TaskSkipped:     factory.Counter("tasking.task.skipped"),
		WorkerMissing:   factory.Counter("tasking.worker.missing"),
		OrphansCanceled: factory.Counter("tasking.worker.orphans_canceled"),
		CronFired:       factory.Counter("tasking.cron.fired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnTaskDispatched implements ext.TaskDispatched.
func (m *MetricsExtension) OnTaskDispatched(context.Context, *task.Task) error {
	m.TaskDispatched.Inc()
	return nil
}

// OnTaskStarted implements ext.TaskStarted.
func (m *MetricsExtension) OnTaskStarted(context.Context, *task.Task) error {
	m.TaskStarted.Inc()
	return nil
}

// OnTaskFinished implements ext.TaskFinished. Tasks canceled while running
// never reach this hook.
func (m *MetricsExtension) OnTaskFinished(_ context.Context, t *task.Task, _ time.Duration) error {
	switch t.State {
	case task.StateCompleted:
		m.TaskCompleted.Inc()
	case task.StateFailed:
		m.TaskFailed.Inc()
	case task.StateSkipped:
		m.TaskSkipped.Inc()
	}
	return nil
}

// OnWorkerMissing implements ext.WorkerMissing.
func (m *MetricsExtension) OnWorkerMissing(_ context.Context, _ string, canceled int) error {
	m.WorkerMissing.Inc()
	for i := 0; i < canceled; i++ {
		m.OrphansCanceled.Inc()
	}
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(context.Context, string, id.TaskID) error {
	m.CronFired.Inc()
	return nil
}
