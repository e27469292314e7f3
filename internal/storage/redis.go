package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/redisclient"
	"cart-service/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisProvider stores carts as JSON strings with a native key expiry.
type RedisProvider struct {
	client *redisclient.Client
	logger *zap.Logger
}

// NewRedisProvider creates a new Redis-backed provider
func NewRedisProvider(client *redisclient.Client) *RedisProvider {
	return &RedisProvider{
		client: client,
		logger: util.GetLogger(),
	}
}

func (p *RedisProvider) Name() string { return "redis" }

// Init forces the first connection so startup fails fast on a dead server.
func (p *RedisProvider) Init(ctx context.Context) error {
	if _, err := p.client.Conn(ctx); err != nil {
		return fmt.Errorf("%w: redis init: %w", ErrUnavailable, err)
	}
	p.logger.Info("Redis storage provider ready")
	return nil
}

func (p *RedisProvider) Get(ctx context.Context, ownerID string) (cart *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "RedisProvider.Get")
	defer span.End()
	defer func(start time.Time) { observe(p.Name(), "get", start, err) }(time.Now())

	key := models.CartKey(ownerID)
	var data []byte
	err = p.run(ctx, "get", key, func(ctx context.Context, rdb *redis.Client) error {
		var cmdErr error
		data, cmdErr = rdb.Get(ctx, key).Bytes()
		return cmdErr
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeCart(p.logger, key, data), nil
}

func (p *RedisProvider) Save(ctx context.Context, cart *models.Cart, ttl time.Duration) (err error) {
	ctx, span := util.StartSpan(ctx, "RedisProvider.Save")
	defer span.End()
	defer func(start time.Time) { observe(p.Name(), "save", start, err) }(time.Now())

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}
	key := models.CartKey(cart.UserID)
	return p.run(ctx, "save", key, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Set(ctx, key, data, ttl).Err()
	})
}

func (p *RedisProvider) Delete(ctx context.Context, ownerID string) (err error) {
	ctx, span := util.StartSpan(ctx, "RedisProvider.Delete")
	defer span.End()
	defer func(start time.Time) { observe(p.Name(), "delete", start, err) }(time.Now())

	return p.DeleteKey(ctx, models.CartKey(ownerID))
}

// SetIfAbsent is SET NX with expiry; an existing key keeps its TTL.
func (p *RedisProvider) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (ok bool, err error) {
	defer func(start time.Time) { observe(p.Name(), "set_nx", start, err) }(time.Now())

	err = p.run(ctx, "setnx", key, func(ctx context.Context, rdb *redis.Client) error {
		var cmdErr error
		ok, cmdErr = rdb.SetNX(ctx, key, lockValue, ttl).Result()
		return cmdErr
	})
	return ok, err
}

func (p *RedisProvider) DeleteKey(ctx context.Context, key string) error {
	return p.run(ctx, "del", key, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Del(ctx, key).Err()
	})
}

func (p *RedisProvider) Health(ctx context.Context) bool {
	return p.client.Ping(ctx) == nil
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// run executes fn against a ready connection with the command timeout.
// redis.Nil passes through untouched; everything else becomes ErrUnavailable.
func (p *RedisProvider) run(ctx context.Context, op, key string, fn func(context.Context, *redis.Client) error) error {
	rdb, err := p.client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: redis %s %s: %w", ErrUnavailable, op, key, err)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, p.client.CommandTimeout())
	defer cancel()

	err = fn(cmdCtx, rdb)
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	p.client.MarkBroken(err)
	return fmt.Errorf("%w: redis %s %s: %w", ErrUnavailable, op, key, err)
}

// decodeCart turns a stored record into a cart. An unreadable record is
// logged and treated as absent so the next save replaces it.
func decodeCart(logger *zap.Logger, key string, data []byte) *models.Cart {
	var cart models.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		logger.Error("Discarding unreadable cart record", zap.String("key", key), zap.Error(err))
		return nil
	}
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	return &cart
}
