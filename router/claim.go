package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/backoff"
	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/reservation"
)

// claim picks the worker for a task and, when resourceID is set, records
// the task's reservation. Lost races are retried with backoff.
func (r *Router) claim(ctx context.Context, taskID id.TaskID, resourceID string) (string, error) {
	if resourceID == "" {
		return r.leastLoaded(ctx)
	}

	var worker string
	err := backoff.Retry(ctx, r.backoff, r.attempts,
		func(err error) bool { return errors.Is(err, tasking.ErrReservationConflict) },
		func(ctx context.Context) error {
			w, err := r.tryClaim(ctx, taskID, resourceID)
			if errors.Is(err, tasking.ErrReservationConflict) {
				r.metrics.ReservationConflict(ctx)
				r.logger.Debug("reservation race lost, retrying",
					slog.String("task_id", taskID.String()),
					slog.String("resource_id", resourceID),
				)
			}
			worker = w
			return err
		},
	)
	if err != nil {
		return "", err
	}
	return worker, nil
}

// tryClaim makes one write-then-verify attempt.
func (r *Router) tryClaim(ctx context.Context, taskID id.TaskID, resourceID string) (string, error) {
	held, err := r.store.ListReservationsByResource(ctx, resourceID)
	if err != nil {
		return "", fmt.Errorf("router: list reservations: %w", err)
	}

	var worker string
	if len(held) > 0 {
		worker = held[0].WorkerName
	} else {
		worker, err = r.leastLoaded(ctx)
		if err != nil {
			return "", err
		}
	}

	row := &reservation.ReservedResource{
		TaskID:     taskID,
		WorkerName: worker,
		ResourceID: resourceID,
		ReservedAt: r.now(),
	}
	if err := r.store.InsertReservation(ctx, row); err != nil {
		return "", fmt.Errorf("router: insert reservation: %w", err)
	}

	held, err = r.store.ListReservationsByResource(ctx, resourceID)
	if err != nil {
		r.release(ctx, taskID)
		return "", fmt.Errorf("router: verify reservation: %w", err)
	}
	for _, other := range held {
		if other.WorkerName != worker {
			r.release(ctx, taskID)
			return "", fmt.Errorf("%w: %s held by %s", tasking.ErrReservationConflict, resourceID, other.WorkerName)
		}
	}
	return worker, nil
}

// leastLoaded returns the live, non-special worker holding the fewest open
// reservations, ties broken by name.
func (r *Router) leastLoaded(ctx context.Context) (string, error) {
	workers, err := r.store.ListWorkers(ctx)
	if err != nil {
		return "", fmt.Errorf("router: list workers: %w", err)
	}
	load, err := r.store.CountReservationsByWorker(ctx)
	if err != nil {
		return "", fmt.Errorf("router: count reservations: %w", err)
	}

	now := r.now()
	best, bestLoad := "", 0
	for _, w := range workers {
		if cluster.IsSpecial(w.Name) || w.IsMissing(now, r.workerTimeout) {
			continue
		}
		n := load[w.Name]
		if best == "" || n < bestLoad || (n == bestLoad && w.Name < best) {
			best, bestLoad = w.Name, n
		}
	}
	if best == "" {
		return "", tasking.ErrNoWorkersAvailable
	}
	return best, nil
}
