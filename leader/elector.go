package leader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulp/tasking/observability"
)

// State is the local view of the scheduler lock.
type State int

const (
	// Unheld means this process does not hold the lock.
	Unheld State = iota
	// Held means this process holds the lock.
	Held
)

// String returns the state name.
func (s State) String() string {
	if s == Held {
		return "held"
	}
	return "unheld"
}

// Option configures an Elector.
type Option func(*Elector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Elector) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Elector) { e.now = now }
}

// WithOnElected registers a callback run when the lock is gained.
func WithOnElected(fn func(ctx context.Context)) Option {
	return func(e *Elector) { e.onElected = fn }
}

// WithOnDemoted registers a callback run when the lock is lost or released.
func WithOnDemoted(fn func(ctx context.Context)) Option {
	return func(e *Elector) { e.onDemoted = fn }
}

// WithMetrics records leadership changes.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Elector) { e.metrics = m }
}

// Elector keeps trying to hold the scheduler lock. Each Step renews the lock
// when held and tries to acquire it when not. A failed renewal demotes.
type Elector struct {
	holder        string
	store         Store
	renewInterval time.Duration
	maxAge        time.Duration

	logger    *slog.Logger
	now       func() time.Time
	metrics   *observability.Metrics
	onElected func(ctx context.Context)
	onDemoted func(ctx context.Context)

	mu     sync.Mutex // serializes Step and Release
	leader atomic.Bool
}

// NewElector creates an Elector for holder. renewInterval is how often Run
// steps; maxAge is how old a lock may get before it can be taken over.
func NewElector(holder string, store Store, renewInterval, maxAge time.Duration, opts ...Option) *Elector {
	e := &Elector{
		holder:        holder,
		store:         store,
		renewInterval: renewInterval,
		maxAge:        maxAge,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Holder returns the identity this Elector acquires the lock as.
func (e *Elector) Holder() string { return e.holder }

// IsLeader reports whether the last Step left this process holding the
// lock. Safe for concurrent use.
func (e *Elector) IsLeader() bool { return e.leader.Load() }

// State returns the current local state.
func (e *Elector) State() State {
	if e.IsLeader() {
		return Held
	}
	return Unheld
}

// Step performs one renew-or-acquire round and returns the resulting state.
// Store errors demote a held lock: a leader that cannot prove it still
// holds the lock must stop acting as leader.
func (e *Elector) Step(ctx context.Context) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	if e.leader.Load() {
		renewed, err := e.store.RenewLock(ctx, e.holder, now)
		if err == nil && renewed {
			return Held, nil
		}
		if err != nil {
			e.logger.Warn("leader lock renew error",
				slog.String("holder", e.holder),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.Warn("leader lock lost", slog.String("holder", e.holder))
		}
		e.setLeader(ctx, false)
		return Unheld, err
	}

	acquired, err := e.store.AcquireLock(ctx, e.holder, now, e.maxAge)
	if err != nil {
		e.logger.Warn("leader lock acquire error",
			slog.String("holder", e.holder),
			slog.String("error", err.Error()),
		)
		return Unheld, err
	}
	if !acquired {
		return Unheld, nil
	}
	e.logger.Info("acquired leader lock", slog.String("holder", e.holder))
	e.setLeader(ctx, true)
	return Held, nil
}

// Run steps immediately and then every renew interval until ctx is done.
// Errors are logged and retried on the next step.
func (e *Elector) Run(ctx context.Context) error {
	_, _ = e.Step(ctx) //nolint:errcheck // logged in Step

	ticker := time.NewTicker(e.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = e.Step(ctx) //nolint:errcheck // logged in Step
		}
	}
}

// Release gives up the lock if held, so another process can take over
// without waiting for it to expire.
func (e *Elector) Release(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.leader.Load() {
		return nil
	}
	e.setLeader(ctx, false)
	if err := e.store.ReleaseLock(ctx, e.holder); err != nil {
		return err
	}
	e.logger.Info("released leader lock", slog.String("holder", e.holder))
	return nil
}

func (e *Elector) setLeader(ctx context.Context, held bool) {
	if e.leader.Swap(held) == held {
		return
	}
	e.metrics.LeadershipChanged(ctx, held)
	if held && e.onElected != nil {
		e.onElected(ctx)
	}
	if !held && e.onDemoted != nil {
		e.onDemoted(ctx)
	}
}
