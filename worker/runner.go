package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/broker"
	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/middleware"
	"github.com/pulp/tasking/task"
)

// Store is the persistence a worker process needs.
type Store interface {
	task.Store
	cluster.Store
}

// Coordinator releases reservations and reclaims a worker's outstanding
// tasks. *router.Router satisfies this interface.
type Coordinator interface {
	Releaser
	CancelWorker(ctx context.Context, worker string) (int, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithHeartbeatInterval sets how often the worker heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *Runner) { r.heartbeatInterval = d }
}

// WithTaskTimeout bounds each task's execution when the default middleware
// stack is used. Zero disables the bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(r *Runner) { r.taskTimeout = d }
}

// WithMiddleware replaces the default middleware stack applied around
// every handler.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(r *Runner) { r.middleware = mws }
}

// WithShutdownTimeout bounds the cleanup performed when Run returns.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) { r.shutdownTimeout = d }
}

// WithCancelPollInterval sets how often a running task is checked for a
// cancel request. Zero disables the check.
func WithCancelPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.cancelPoll = d }
}

// WithExtensions notifies exts of task starts, finishes, and shutdown.
func WithExtensions(exts *ext.Registry) Option {
	return func(r *Runner) { r.exts = exts }
}

// Runner is one worker process: it heartbeats under its name and executes
// the tasks delivered to its dedicated queue one at a time.
type Runner struct {
	name   string
	store  Store
	broker broker.Broker
	coord  Coordinator

	registry          *task.Registry
	middleware        []middleware.Middleware
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
	taskTimeout       time.Duration
	cancelPoll        time.Duration
	logger            *slog.Logger
	exts              *ext.Registry
}

// NewRunner creates a Runner for the named worker.
func NewRunner(name string, store Store, b broker.Broker, registry *task.Registry, coord Coordinator, opts ...Option) *Runner {
	r := &Runner{
		name:              name,
		store:             store,
		broker:            b,
		coord:             coord,
		registry:          registry,
		heartbeatInterval: tasking.DefaultConfig().HeartbeatInterval,
		shutdownTimeout:   10 * time.Second,
		cancelPoll:        time.Second,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.middleware == nil {
		r.middleware = DefaultMiddleware(r.logger, r.taskTimeout)
	}
	return r
}

// DefaultMiddleware returns the standard stack:
// recover → tracing → metrics → logging → scope → timeout.
func DefaultMiddleware(logger *slog.Logger, timeout time.Duration) []middleware.Middleware {
	return []middleware.Middleware{
		middleware.Recover(logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(logger),
		middleware.Scope(),
		middleware.Timeout(timeout),
	}
}

// Name returns the worker name.
func (r *Runner) Name() string { return r.name }

// Queue returns the worker's dedicated queue.
func (r *Runner) Queue() string { return cluster.QueueName(r.name) }

// Run heartbeats and consumes the dedicated queue until ctx is done. On
// return the worker cancels its outstanding tasks, releases their
// reservations, and removes itself from the registry.
func (r *Runner) Run(ctx context.Context) error {
	exec := NewExecutor(r.registry, r.store, r.coord, r.logger, r.middleware...)
	exec.exts = r.exts
	exec.cancelPoll = r.cancelPoll
	hb := cluster.NewHeartbeater(r.name, r.store, r.heartbeatInterval, cluster.WithHeartbeatLogger(r.logger))

	r.logger.Info("worker starting",
		slog.String("worker", r.name),
		slog.String("queue", r.Queue()),
		slog.Any("tasks", r.registry.Names()),
	)

	// Register before consuming so the router can see us.
	if err := hb.Beat(ctx); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// The heartbeat stops once consumption ends for any reason.
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return hb.Run(gctx) })
	g.Go(func() error {
		defer stop()
		return r.consume(gctx, exec)
	})
	err := g.Wait()

	r.shutdown(context.WithoutCancel(ctx))
	return err
}

func (r *Runner) consume(ctx context.Context, exec *Executor) error {
	for ctx.Err() == nil {
		msg, err := r.broker.Consume(ctx, r.Queue())
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, tasking.ErrBrokerClosed) {
				return nil
			}
			return err
		}
		if err := exec.Execute(ctx, msg, r.name); err != nil {
			r.logger.Error("task bookkeeping failed",
				slog.String("task_id", msg.TaskID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// shutdown reclaims this worker's outstanding tasks and deregisters it.
func (r *Runner) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.shutdownTimeout)
	defer cancel()

	canceled, err := r.coord.CancelWorker(ctx, r.name)
	if err != nil {
		r.logger.Error("failed to cancel outstanding tasks",
			slog.String("worker", r.name),
			slog.String("error", err.Error()),
		)
	}
	if err := r.store.DeleteWorker(ctx, r.name); err != nil {
		r.logger.Error("failed to deregister worker",
			slog.String("worker", r.name),
			slog.String("error", err.Error()),
		)
	}
	r.exts.EmitShutdown(ctx)
	r.logger.Info("worker stopped",
		slog.String("worker", r.name),
		slog.Int("canceled_tasks", canceled),
	)
}
