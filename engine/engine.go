package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/broker"
	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/cron"
	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/leader"
	"github.com/pulp/tasking/monitor"
	"github.com/pulp/tasking/observability"
	"github.com/pulp/tasking/reaper"
	"github.com/pulp/tasking/router"
	"github.com/pulp/tasking/scope"
	"github.com/pulp/tasking/store"
	"github.com/pulp/tasking/task"
)

const instrumentationName = "github.com/pulp/tasking"

// Engine is the process-scoped coordinator: it owns the router and the
// leader-only periodic duties of one coordinator process.
type Engine struct {
	cfg    tasking.Config
	name   string
	store  store.Store
	broker broker.Broker

	router      *router.Router
	elector     *leader.Elector
	monitor     *monitor.Monitor
	reaper      *reaper.Reaper
	scheduler   *cron.Scheduler
	heartbeater *cluster.Heartbeater
	exts        *ext.Registry

	limiter         *rate.Limiter
	redispatchBatch int

	hostname       string
	now            func() time.Time
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	extensions     []ext.Extension
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHostname overrides the host part of the process identity. Defaults
// to os.Hostname.
func WithHostname(h string) Option {
	return func(e *Engine) { e.hostname = h }
}

// WithClock overrides the time source of every subsystem.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRedispatchRate limits how many waiting tasks per second are
// redispatched, routing at most batch per store query.
func WithRedispatchRate(perSecond float64, batch int) Option {
	return func(e *Engine) {
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), batch)
		e.redispatchBatch = batch
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. If not set, the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. If not set, the
// global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithExtension registers an extension notified of dispatches, missing
// workers, cron fires, and shutdown.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.extensions = append(e.extensions, x) }
}

// New validates cfg and builds the coordinator subsystems on top of s and b.
func New(cfg tasking.Config, s store.Store, b broker.Broker, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, tasking.ErrNoStore
	}
	if b == nil {
		return nil, tasking.ErrNoBroker
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:             cfg,
		store:           s,
		broker:          b,
		limiter:         rate.NewLimiter(100, 100),
		redispatchBatch: 100,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		e.hostname = hostname
	}
	e.name = cluster.Name(cluster.RoleResourceManager, e.hostname)
	e.exts = ext.NewRegistry(e.logger, e.extensions...)

	metrics := observability.NewMetrics()
	if e.meterProvider != nil {
		metrics = observability.NewMetricsWithMeter(e.meterProvider.Meter(instrumentationName))
	}

	routerOpts := []router.Option{
		router.WithLogger(e.logger),
		router.WithClock(e.now),
		router.WithWorkerTimeout(cfg.WorkerTimeout),
		router.WithMetrics(metrics),
		router.WithExtensions(e.exts),
	}
	if e.tracerProvider != nil {
		routerOpts = append(routerOpts, router.WithTracer(e.tracerProvider.Tracer(instrumentationName)))
	}
	e.router = router.New(s, b, routerOpts...)

	e.elector = leader.NewElector(leader.NewHolderID(e.name), s, cfg.LockRenewInterval, cfg.LockMaxAge,
		leader.WithLogger(e.logger),
		leader.WithClock(e.now),
		leader.WithMetrics(metrics),
	)

	e.monitor = monitor.New(s, e.router, cfg.WorkerTimeout, cfg.MonitorInterval,
		monitor.WithLogger(e.logger),
		monitor.WithClock(e.now),
		monitor.WithMetrics(metrics),
		monitor.WithExtensions(e.exts),
	)

	e.reaper = reaper.New(s, reaper.DefaultTargets(cfg), cfg.ReapInterval,
		reaper.WithLogger(e.logger),
		reaper.WithClock(e.now),
		reaper.WithMetrics(metrics),
	)

	e.scheduler = cron.NewScheduler(e.dispatchCron, e.elector,
		cron.WithLogger(e.logger),
		cron.WithClock(e.now),
		cron.WithExtensions(e.exts),
	)

	e.heartbeater = cluster.NewHeartbeater(e.name, s, cfg.HeartbeatInterval,
		cluster.WithHeartbeatLogger(e.logger),
		cluster.WithHeartbeatClock(e.now),
	)

	return e, nil
}

// dispatchCron fires a periodic entry as the system user. Entries due while
// no worker is available are parked as waiting tasks.
func (e *Engine) dispatchCron(ctx context.Context, taskName, resourceID string, payload []byte) (id.TaskID, error) {
	t, err := e.router.DispatchWaiting(scope.System(ctx), router.Request{
		Name:       taskName,
		ResourceID: resourceID,
		Payload:    payload,
	})
	if err != nil {
		return id.Nil, err
	}
	return t.ID, nil
}

// Run runs the coordinator until ctx is done: heartbeat, leader election,
// and the leader-only monitor, reaper, scheduler and redispatch loops.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("coordinator starting",
		slog.String("name", e.name),
		slog.String("holder", e.elector.Holder()),
		slog.Duration("worker_timeout", e.cfg.WorkerTimeout),
		slog.Duration("lock_max_age", e.cfg.LockMaxAge),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.heartbeater.Run(gctx) })
	g.Go(func() error { return e.elector.Run(gctx) })
	g.Go(func() error { return e.monitor.Run(gctx, e.elector) })
	g.Go(func() error { return e.reaper.Run(gctx, e.elector) })
	g.Go(func() error { return e.scheduler.Run(gctx) })
	g.Go(func() error { return e.redispatchLoop(gctx) })
	return g.Wait()
}

func (e *Engine) redispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.WaitingRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !e.elector.IsLeader() {
				continue
			}
			if _, err := e.RedispatchWaiting(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("redispatch of waiting tasks failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RedispatchWaiting routes unassigned waiting tasks in batches until none
// are left or no worker is available. Full batches are paced by the
// redispatch rate limit. Returns the number of tasks routed.
func (e *Engine) RedispatchWaiting(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := e.router.RedispatchWaiting(ctx, e.redispatchBatch)
		total += n
		if err != nil || n < e.redispatchBatch {
			return total, err
		}
		if err := e.limiter.WaitN(ctx, n); err != nil {
			return total, err
		}
	}
}

// Stop releases the leader lock, so another coordinator takes over without
// waiting for it to expire, and removes this process from the registry.
func (e *Engine) Stop(ctx context.Context) error {
	e.exts.EmitShutdown(ctx)

	var errs []error
	if err := e.elector.Release(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release leader lock: %w", err))
	}
	if err := e.store.DeleteWorker(ctx, e.name); err != nil {
		errs = append(errs, fmt.Errorf("deregister %s: %w", e.name, err))
	}
	e.logger.Info("coordinator stopped", slog.String("name", e.name))
	return errors.Join(errs...)
}

// Name returns the process identity, resource_manager@<host>.
func (e *Engine) Name() string { return e.name }

// IsLeader reports whether this process currently holds the leader lock.
func (e *Engine) IsLeader() bool { return e.elector.IsLeader() }

// Router returns the resource-reservation router.
func (e *Engine) Router() *router.Router { return e.router }

// Elector returns the leader elector.
func (e *Engine) Elector() *leader.Elector { return e.elector }

// Monitor returns the worker monitor.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// Reaper returns the reaper.
func (e *Engine) Reaper() *reaper.Reaper { return e.reaper }

// Scheduler returns the periodic scheduler.
func (e *Engine) Scheduler() *cron.Scheduler { return e.scheduler }

// TaskStatus returns the current record of a task.
func (e *Engine) TaskStatus(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// DispatchRaw dispatches a task with a pre-serialized payload. Returns
// tasking.ErrNoWorkersAvailable when no worker is live.
func (e *Engine) DispatchRaw(ctx context.Context, name, resourceID string, payload []byte) (*task.Task, error) {
	return e.router.Dispatch(ctx, router.Request{Name: name, ResourceID: resourceID, Payload: payload})
}

// Cancel cancels a task and releases its reservation.
func (e *Engine) Cancel(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return e.router.Cancel(ctx, taskID)
}

// Dispatch JSON-encodes payload and dispatches the named task, reserving
// resourceID when it is non-empty.
func Dispatch[T any](ctx context.Context, eng *Engine, name, resourceID string, payload T) (*task.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %q: %w", name, err)
	}
	return eng.DispatchRaw(ctx, name, resourceID, data)
}

// RegisterCron registers a typed periodic entry with the engine's
// scheduler.
func RegisterCron[T any](eng *Engine, def cron.Definition[T]) error {
	if err := cron.Register(eng.scheduler, def); err != nil {
		return err
	}
	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("task_name", def.TaskName),
	)
	return nil
}
