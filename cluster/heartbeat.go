package cluster

import (
	"context"
	"log/slog"
	"time"
)

// HeartbeatOption configures a Heartbeater.
type HeartbeatOption func(*Heartbeater)

// WithHeartbeatLogger sets the logger.
func WithHeartbeatLogger(l *slog.Logger) HeartbeatOption {
	return func(h *Heartbeater) { h.logger = l }
}

// WithHeartbeatClock overrides the time source.
func WithHeartbeatClock(now func() time.Time) HeartbeatOption {
	return func(h *Heartbeater) { h.now = now }
}

// Heartbeater periodically writes a worker's liveness to the registry.
type Heartbeater struct {
	name     string
	store    Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewHeartbeater creates a Heartbeater for the named worker.
func NewHeartbeater(name string, store Store, interval time.Duration, opts ...HeartbeatOption) *Heartbeater {
	h := &Heartbeater{
		name:     name,
		store:    store,
		interval: interval,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the worker name this Heartbeater writes for.
func (h *Heartbeater) Name() string { return h.name }

// Beat writes one heartbeat.
func (h *Heartbeater) Beat(ctx context.Context) error {
	return h.store.Heartbeat(ctx, h.name, h.now())
}

// Run beats immediately and then every interval until ctx is done. Write
// errors are logged; a missed beat is recovered by the next one.
func (h *Heartbeater) Run(ctx context.Context) error {
	if err := h.Beat(ctx); err != nil {
		h.logger.Warn("heartbeat failed", slog.String("worker", h.name), slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Beat(ctx); err != nil {
				h.logger.Warn("heartbeat failed", slog.String("worker", h.name), slog.String("error", err.Error()))
			}
		}
	}
}
