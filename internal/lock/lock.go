// Package lock serializes cart mutations with an advisory per-owner lock.
//
// The lock carries no owner token and no fencing: a holder that outlives the
// TTL can overlap with the next holder, and Release deletes the key whoever
// holds it. Callers keep critical sections well under the TTL.
package lock

import (
	"context"
	"fmt"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// Backend is the conditional key store the lock is built on.
type Backend interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	DeleteKey(ctx context.Context, key string) error
}

type Locker struct {
	backend    Backend
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewLocker creates a new Locker. A non-positive defaultTTL uses models.DefaultLockTTL.
func NewLocker(backend Backend, defaultTTL time.Duration) *Locker {
	if defaultTTL <= 0 {
		defaultTTL = models.DefaultLockTTL
	}
	return &Locker{
		backend:    backend,
		defaultTTL: defaultTTL,
		logger:     util.GetLogger(),
	}
}

// Acquire tries once to take the lock for ownerID. It returns false when the
// lock is already held; an existing lock's TTL is left untouched.
func (l *Locker) Acquire(ctx context.Context, ownerID string, ttl time.Duration) (bool, error) {
	ctx, span := util.StartSpan(ctx, "Locker.Acquire")
	defer span.End()

	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	ok, err := l.backend.SetIfAbsent(ctx, models.LockKey(ownerID), ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", ownerID, err)
	}
	if !ok {
		util.CartLockContentionTotal.Inc()
		l.logger.Debug("Cart lock held", zap.String("owner", ownerID))
	}
	return ok, nil
}

// Release deletes the lock. Releasing a lock that is not held is a no-op.
func (l *Locker) Release(ctx context.Context, ownerID string) error {
	ctx, span := util.StartSpan(ctx, "Locker.Release")
	defer span.End()

	if err := l.backend.DeleteKey(ctx, models.LockKey(ownerID)); err != nil {
		return fmt.Errorf("release lock for %s: %w", ownerID, err)
	}
	return nil
}
