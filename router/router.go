package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/backoff"
	"github.com/pulp/tasking/broker"
	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/observability"
	"github.com/pulp/tasking/reservation"
	"github.com/pulp/tasking/scope"
	"github.com/pulp/tasking/task"
)

// tracerName is the instrumentation scope name for router tracing.
const tracerName = "github.com/pulp/tasking/router"

// Store is the persistence the router needs.
type Store interface {
	task.Store
	cluster.Store
	reservation.Store
}

// Request describes a task to dispatch.
type Request struct {
	// TaskID is the ID to use for the task. A new ID is generated when nil.
	TaskID id.TaskID
	// Name selects the handler that runs the task.
	Name string
	// ResourceID, when set, is the resource the task needs exclusively.
	ResourceID string
	// Payload is passed to the handler.
	Payload []byte
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithWorkerTimeout sets how old a heartbeat may be for a worker to still
// receive tasks.
func WithWorkerTimeout(d time.Duration) Option {
	return func(r *Router) { r.workerTimeout = d }
}

// WithBackoff sets the retry policy for lost reservation races.
func WithBackoff(s backoff.Strategy, attempts int) Option {
	return func(r *Router) {
		r.backoff = s
		r.attempts = attempts
	}
}

// WithMetrics records routing outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// WithExtensions notifies exts of every routed task.
func WithExtensions(exts *ext.Registry) Option {
	return func(r *Router) { r.exts = exts }
}

// Router assigns tasks to workers and manages their reservations.
type Router struct {
	store  Store
	broker broker.Broker

	workerTimeout time.Duration
	backoff       backoff.Strategy
	attempts      int

	logger  *slog.Logger
	now     func() time.Time
	metrics *observability.Metrics
	tracer  trace.Tracer
	exts    *ext.Registry
}

// New creates a Router.
func New(store Store, b broker.Broker, opts ...Option) *Router {
	r := &Router{
		store:         store,
		broker:        b,
		workerTimeout: tasking.DefaultConfig().WorkerTimeout,
		backoff:       backoff.DefaultStrategy(),
		attempts:      backoff.DefaultAttempts,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch routes req to a worker, records its reservation and task, and
// publishes it to the worker's queue. Returns tasking.ErrNoWorkersAvailable
// when no live worker exists; nothing is persisted in that case.
//
// A task on a resource never overtakes older parked tasks on the same
// resource: those are routed first, and if one of them cannot be, the new
// task is parked behind it. A reservation race still lost after the retry
// budget also parks the task. A parked task is returned in the waiting
// state with no worker and is routed later by RedispatchWaiting.
func (r *Router) Dispatch(ctx context.Context, req Request) (*task.Task, error) {
	if req.TaskID.IsNil() {
		req.TaskID = id.NewTaskID()
	}

	ctx, span := r.tracer.Start(ctx, "tasking.router.dispatch",
		trace.WithAttributes(
			attribute.String("tasking.task.id", req.TaskID.String()),
			attribute.String("tasking.task.name", req.Name),
			attribute.String("tasking.resource.id", req.ResourceID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	t, err := r.dispatch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome := observability.OutcomeError
		if errors.Is(err, tasking.ErrNoWorkersAvailable) {
			outcome = observability.OutcomeNoWorkers
		}
		r.metrics.TaskDispatched(ctx, outcome, req.ResourceID != "")
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	if t.WorkerName == "" {
		span.SetAttributes(attribute.Bool("tasking.task.parked", true))
		r.metrics.TaskDispatched(ctx, observability.OutcomeParked, req.ResourceID != "")
		return t, nil
	}
	span.SetAttributes(attribute.String("tasking.worker.name", t.WorkerName))
	r.metrics.TaskDispatched(ctx, observability.OutcomeRouted, req.ResourceID != "")
	r.exts.EmitTaskDispatched(ctx, t)
	return t, nil
}

func (r *Router) dispatch(ctx context.Context, req Request) (*task.Task, error) {
	if req.ResourceID != "" {
		blocked, err := r.routeParked(ctx, req.ResourceID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return r.park(ctx, req, "resource has older parked tasks")
		}
	}

	worker, err := r.claim(ctx, req.TaskID, req.ResourceID)
	if errors.Is(err, tasking.ErrReservationConflict) {
		return r.park(ctx, req, "reservation contended")
	}
	if err != nil {
		return nil, err
	}

	now := r.now()
	t := &task.Task{
		Entity:     tasking.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         req.TaskID,
		Name:       req.Name,
		State:      task.StateWaiting,
		WorkerName: worker,
		ResourceID: req.ResourceID,
		Payload:    req.Payload,
		User:       scope.User(ctx),
	}
	if err := r.store.CreateTask(ctx, t); err != nil {
		r.rollback(ctx, t.ID, false)
		return nil, fmt.Errorf("router: create task: %w", err)
	}

	if err := r.publish(ctx, t); err != nil {
		r.rollback(ctx, t.ID, true)
		return nil, err
	}

	r.logger.Info("task dispatched",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.String("resource_id", t.ResourceID),
		slog.String("worker", worker),
	)
	return t, nil
}

// routeParked routes the parked tasks on resourceID, oldest first. It
// reports blocked when one of them is still parked afterwards. Returns
// tasking.ErrNoWorkersAvailable when no worker can take them.
func (r *Router) routeParked(ctx context.Context, resourceID string) (bool, error) {
	parked, err := r.store.ListUnassignedTasksByResource(ctx, resourceID)
	if err != nil {
		return false, fmt.Errorf("router: list parked tasks: %w", err)
	}
	for _, t := range parked {
		err := r.redispatch(ctx, t)
		switch {
		case err == nil, errors.Is(err, tasking.ErrInvalidState), errors.Is(err, tasking.ErrTaskNotFound):
			// Routed, or canceled meanwhile.
		case errors.Is(err, tasking.ErrNoWorkersAvailable):
			return false, err
		case errors.Is(err, tasking.ErrReservationConflict), errors.Is(err, tasking.ErrReservationAlreadyExists):
			// Contended, or another process is routing it right now.
			return true, nil
		default:
			return false, err
		}
	}
	return false, nil
}

// park persists req as an unassigned waiting task.
func (r *Router) park(ctx context.Context, req Request, reason string) (*task.Task, error) {
	now := r.now()
	t := &task.Task{
		Entity:     tasking.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         req.TaskID,
		Name:       req.Name,
		State:      task.StateWaiting,
		ResourceID: req.ResourceID,
		Payload:    req.Payload,
		User:       scope.User(ctx),
	}
	if err := r.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("router: create waiting task: %w", err)
	}
	r.logger.Warn("task left waiting",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.String("resource_id", t.ResourceID),
		slog.String("reason", reason),
	)
	return t, nil
}

// DispatchWaiting is Dispatch, except that when no worker is available the
// task is persisted unassigned in the waiting state instead of failing.
// RedispatchWaiting later routes it.
func (r *Router) DispatchWaiting(ctx context.Context, req Request) (*task.Task, error) {
	if req.TaskID.IsNil() {
		req.TaskID = id.NewTaskID()
	}

	t, err := r.Dispatch(ctx, req)
	if err == nil || !errors.Is(err, tasking.ErrNoWorkersAvailable) {
		return t, err
	}
	return r.park(ctx, req, "no workers available")
}

// RedispatchWaiting routes up to limit unassigned waiting tasks, oldest
// first. A resource whose oldest parked task cannot be routed keeps its
// younger tasks parked too. It stops at the first
// tasking.ErrNoWorkersAvailable and returns the number of tasks routed.
func (r *Router) RedispatchWaiting(ctx context.Context, limit int) (int, error) {
	pending, err := r.store.ListUnassignedTasks(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("router: list waiting tasks: %w", err)
	}

	routed := 0
	stuck := make(map[string]bool)
	for _, t := range pending {
		if t.ResourceID != "" && stuck[t.ResourceID] {
			continue
		}
		err := r.redispatch(ctx, t)
		if errors.Is(err, tasking.ErrNoWorkersAvailable) {
			return routed, nil
		}
		if err != nil {
			if t.ResourceID != "" && !errors.Is(err, tasking.ErrInvalidState) {
				stuck[t.ResourceID] = true
			}
			r.logger.Warn("redispatch failed",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		routed++
	}
	return routed, nil
}

func (r *Router) redispatch(ctx context.Context, t *task.Task) error {
	worker, err := r.claim(ctx, t.ID, t.ResourceID)
	if err != nil {
		return err
	}

	assigned, err := r.store.TransitionTask(ctx, t.ID, task.Transition{
		From:       []task.State{task.StateWaiting},
		To:         task.StateWaiting,
		WorkerName: worker,
	})
	if err != nil {
		// Canceled or picked up meanwhile.
		r.release(ctx, t.ID)
		return err
	}

	if err := r.publish(ctx, assigned); err != nil {
		r.release(ctx, t.ID)
		if _, uerr := r.store.TransitionTask(ctx, t.ID, task.Transition{
			From:        []task.State{task.StateWaiting},
			To:          task.StateWaiting,
			ClearWorker: true,
		}); uerr != nil {
			r.logger.Warn("unassign after failed publish",
				slog.String("task_id", t.ID.String()),
				slog.String("error", uerr.Error()),
			)
		}
		return err
	}

	r.metrics.TaskDispatched(ctx, observability.OutcomeRouted, t.ResourceID != "")
	r.exts.EmitTaskDispatched(ctx, assigned)
	r.logger.Info("waiting task dispatched",
		slog.String("task_id", t.ID.String()),
		slog.String("worker", worker),
	)
	return nil
}

func (r *Router) publish(ctx context.Context, t *task.Task) error {
	msg := &broker.Message{
		TaskID:     t.ID.String(),
		Name:       t.Name,
		ResourceID: t.ResourceID,
		Payload:    t.Payload,
		User:       t.User,
		EnqueuedAt: r.now(),
	}
	if err := r.broker.Publish(ctx, cluster.QueueName(t.WorkerName), msg); err != nil {
		return fmt.Errorf("router: publish to %s: %w", cluster.QueueName(t.WorkerName), err)
	}
	return nil
}

// rollback undoes a partially dispatched task.
func (r *Router) rollback(ctx context.Context, taskID id.TaskID, deleteTask bool) {
	r.release(ctx, taskID)
	if !deleteTask {
		return
	}
	if err := r.store.DeleteTask(ctx, taskID); err != nil {
		r.logger.Error("rollback: delete task",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Router) release(ctx context.Context, taskID id.TaskID) {
	if err := r.store.DeleteReservation(ctx, taskID); err != nil {
		r.logger.Error("rollback: delete reservation",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
	}
}
