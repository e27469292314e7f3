// Package storage persists carts behind interchangeable backends.
package storage

import (
	"context"
	"errors"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"
)

// ErrUnavailable means the backend could not be reached or refused the call.
// It is never used to signal a missing cart.
var ErrUnavailable = errors.New("storage unavailable")

// Provider is a cart store. Get returns (nil, nil) when the owner has no cart.
// Save writes the record and its TTL in one backend call.
//
// SetIfAbsent and DeleteKey operate on raw keys and back the advisory lock.
type Provider interface {
	Name() string
	Init(ctx context.Context) error
	Get(ctx context.Context, ownerID string) (*models.Cart, error)
	Save(ctx context.Context, cart *models.Cart, ttl time.Duration) error
	Delete(ctx context.Context, ownerID string) error
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	DeleteKey(ctx context.Context, key string) error
	Health(ctx context.Context) bool
	Close() error
}

// lockValue is the placeholder stored under lock keys.
const lockValue = "locked"

func observe(provider, op string, start time.Time, err error) {
	util.StorageOperationLatency.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
	if err != nil {
		util.StorageErrorsTotal.WithLabelValues(provider, op).Inc()
	}
}
