// Package leader elects exactly one coordinator process to run periodic
// duties (heartbeat monitoring, reaping, the periodic scheduler).
//
// Election uses a single lock record in the document store. Acquisition is
// one atomic insert-if-absent-or-overwrite-if-expired operation, so among
// concurrent attempts exactly one wins. The holder renews the lock well
// inside its maximum age; a lock that has not been renewed within the
// maximum age is considered abandoned and may be taken over.
//
// Two processes may briefly both believe they lead (the old holder has not
// yet noticed the takeover). Everything the leader runs is idempotent, so
// one overlapping cycle is harmless.
package leader

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LockName is the identifier of the single scheduler lock record.
const LockName = "scheduler"

// Lock is the scheduler lock record.
type Lock struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at"`
}

// Expired reports whether the lock was last renewed more than maxAge
// before now.
func (l *Lock) Expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(l.RenewedAt) > maxAge
}

// NewHolderID returns a holder identity unique to this process
// incarnation: the process name followed by a random suffix.
func NewHolderID(name string) string {
	return name + "/" + uuid.NewString()
}

// Store defines the persistence contract for the scheduler lock.
type Store interface {
	// AcquireLock atomically grants the lock to holder if no lock exists,
	// the existing lock expired (renewed_at older than maxAge at now), or
	// holder already holds it. Returns whether holder now holds the lock.
	AcquireLock(ctx context.Context, holder string, now time.Time, maxAge time.Duration) (bool, error)

	// RenewLock sets renewed_at to now if holder still holds the lock.
	RenewLock(ctx context.Context, holder string, now time.Time) (bool, error)

	// ReleaseLock deletes the lock if holder holds it.
	ReleaseLock(ctx context.Context, holder string) error

	// GetLock returns the current lock, or nil if there is none.
	GetLock(ctx context.Context) (*Lock, error)
}
