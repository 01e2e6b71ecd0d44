package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pulp/tasking/leader"
)

// AcquireLock grants the scheduler lock to holder. The current holder
// re-acquiring is a renewal. Otherwise one upsert whose filter only matches
// an expired lock either overwrites it or, when the lock is absent, inserts
// a fresh one; a live lock held by someone else makes the insert collide
// on _id, which means the attempt lost.
func (s *Store) AcquireLock(ctx context.Context, holder string, now time.Time, maxAge time.Duration) (bool, error) {
	renewed, err := s.RenewLock(ctx, holder, now)
	if err != nil || renewed {
		return renewed, err
	}

	_, err = s.db.Collection(colLock).UpdateOne(ctx,
		bson.M{
			"_id":        leader.LockName,
			"renewed_at": bson.M{"$lt": now.Add(-maxAge)},
		},
		bson.M{"$set": bson.M{
			"holder":      holder,
			"acquired_at": now,
			"renewed_at":  now,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("tasking/mongo: acquire lock: %w", err)
	}
	return true, nil
}

// RenewLock refreshes renewed_at if holder still holds the lock.
func (s *Store) RenewLock(ctx context.Context, holder string, now time.Time) (bool, error) {
	res, err := s.db.Collection(colLock).UpdateOne(ctx,
		bson.M{"_id": leader.LockName, "holder": holder},
		bson.M{"$set": bson.M{"renewed_at": now}},
	)
	if err != nil {
		return false, fmt.Errorf("tasking/mongo: renew lock: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// ReleaseLock deletes the lock if holder holds it.
func (s *Store) ReleaseLock(ctx context.Context, holder string) error {
	_, err := s.db.Collection(colLock).DeleteOne(ctx, bson.M{"_id": leader.LockName, "holder": holder})
	if err != nil {
		return fmt.Errorf("tasking/mongo: release lock: %w", err)
	}
	return nil
}

// GetLock returns the current lock, or nil if there is none.
func (s *Store) GetLock(ctx context.Context) (*leader.Lock, error) {
	var m lockModel
	err := s.db.Collection(colLock).FindOne(ctx, bson.M{"_id": leader.LockName}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tasking/mongo: get lock: %w", err)
	}
	return fromLockModel(&m), nil
}
