package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/sidecar"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// DaprProvider stores carts through the sidecar state API.
type DaprProvider struct {
	client      *sidecar.Client
	store       string
	minTTL      time.Duration
	sidecarWait time.Duration
	logger      *zap.Logger
}

// NewDaprProvider creates a new sidecar-backed provider. Cart TTLs below
// minTTL are raised to it.
func NewDaprProvider(client *sidecar.Client, store string, minTTL, sidecarWait time.Duration) *DaprProvider {
	return &DaprProvider{
		client:      client,
		store:       store,
		minTTL:      minTTL,
		sidecarWait: sidecarWait,
		logger:      util.GetLogger(),
	}
}

func (p *DaprProvider) Name() string { return "dapr" }

// Init waits for the sidecar to report healthy.
func (p *DaprProvider) Init(ctx context.Context) error {
	if err := p.client.WaitForSidecar(ctx, p.sidecarWait); err != nil {
		return fmt.Errorf("%w: dapr init: %w", ErrUnavailable, err)
	}
	p.logger.Info("Dapr storage provider ready", zap.String("store", p.store))
	return nil
}

func (p *DaprProvider) Get(ctx context.Context, ownerID string) (cart *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "DaprProvider.Get")
	defer span.End()
	defer func(start time.Time) { observe(p.Name(), "get", start, err) }(time.Now())

	key := models.CartKey(ownerID)
	data, err := p.client.GetState(ctx, p.store, key)
	if err != nil {
		return nil, fmt.Errorf("%w: dapr get %s: %w", ErrUnavailable, key, err)
	}
	if data == nil {
		return nil, nil
	}
	return decodeCart(p.logger, key, data), nil
}

func (p *DaprProvider) Save(ctx context.Context, cart *models.Cart, ttl time.Duration) (err error) {
	ctx, span := util.StartSpan(ctx, "DaprProvider.Save")
	defer span.End()
	defer func(start time.Time) { observe(p.Name(), "save", start, err) }(time.Now())

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}
	if ttl < p.minTTL {
		ttl = p.minTTL
	}

	key := models.CartKey(cart.UserID)
	err = p.client.SaveState(ctx, p.store, sidecar.StateItem{
		Key:      key,
		Value:    data,
		Metadata: sidecar.TTLMetadata(ttl),
	})
	if err != nil {
		return fmt.Errorf("%w: dapr save %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

func (p *DaprProvider) Delete(ctx context.Context, ownerID string) (err error) {
	ctx, span := util.StartSpan(ctx, "DaprProvider.Delete")
	defer span.End()
	defer func(start time.Time) { observe(p.Name(), "delete", start, err) }(time.Now())

	return p.DeleteKey(ctx, models.CartKey(ownerID))
}

// SetIfAbsent uses first-write concurrency without an etag, which the sidecar
// rejects with a conflict when the key exists.
func (p *DaprProvider) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (ok bool, err error) {
	defer func(start time.Time) { observe(p.Name(), "set_nx", start, err) }(time.Now())

	value, _ := json.Marshal(lockValue)
	err = p.client.SaveIfAbsent(ctx, p.store, key, value, ttl)
	if errors.Is(err, sidecar.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: dapr set-if-absent %s: %w", ErrUnavailable, key, err)
	}
	return true, nil
}

func (p *DaprProvider) DeleteKey(ctx context.Context, key string) error {
	if err := p.client.DeleteState(ctx, p.store, key); err != nil {
		return fmt.Errorf("%w: dapr delete %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

func (p *DaprProvider) Health(ctx context.Context) bool {
	return p.client.Healthy(ctx)
}

// Close is a no-op; the sidecar owns the backend connection.
func (p *DaprProvider) Close() error {
	return nil
}
