// Package provider picks the storage and messaging backends once at startup.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cart-service/config"
	"cart-service/internal/broker"
	"cart-service/internal/lock"
	"cart-service/internal/redisclient"
	"cart-service/internal/sidecar"
	"cart-service/internal/storage"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

const (
	ModeAuto  = "auto"
	ModeDapr  = "dapr"
	ModeRedis = "redis"
	ModeKafka = "kafka"
)

var ErrUnknownMode = errors.New("unknown provider mode")

// Registry owns the resolved backends. Fields are set by Init and must not be
// replaced afterwards.
type Registry struct {
	Storage storage.Provider
	Locker  *lock.Locker
	Events  *broker.CartEventPublisher

	cfg     *config.Config
	backend broker.Backend
	sidecar *sidecar.Client
	logger  *zap.Logger

	mu     sync.Mutex
	inited bool
	closed bool
}

// New creates a new registry. Nothing is dialled until Init.
func New(cfg *config.Config) *Registry {
	return &Registry{
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// Init resolves the backends from the configured modes. It runs once; later
// calls return nil without doing anything.
func (r *Registry) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inited {
		return nil
	}

	store, err := r.resolveStorage(ctx)
	if err != nil {
		return err
	}
	backend, err := r.resolveBackend(ctx)
	if err != nil {
		_ = store.Close()
		return err
	}

	r.Storage = store
	r.Locker = lock.NewLocker(store, r.cfg.Cart.LockTTL)
	r.backend = backend
	r.Events = broker.NewCartEventPublisher(
		broker.NewPublisher(backend, r.cfg.Events.Source, r.cfg.Events.Namespace, r.cfg.Events.PublishTimeout),
	)
	r.inited = true

	r.logger.Info("Providers resolved",
		zap.String("storage", store.Name()),
		zap.String("messaging", backend.Name()),
	)
	return nil
}

func (r *Registry) resolveStorage(ctx context.Context) (storage.Provider, error) {
	mode := r.cfg.Cart.StorageMode
	switch mode {
	case ModeRedis:
		return r.initRedis(ctx), nil
	case ModeAuto, ModeDapr:
		dapr := storage.NewDaprProvider(r.sidecarClient(), r.cfg.Dapr.StateStore, r.cfg.Dapr.MinTTL, r.cfg.Dapr.SidecarWait)
		if err := dapr.Init(ctx); err != nil {
			log := r.logger.Info
			if mode == ModeDapr {
				log = r.logger.Warn
			}
			log("Dapr sidecar not available, falling back to Redis storage", zap.String("mode", mode), zap.Error(err))
			return r.initRedis(ctx), nil
		}
		return dapr, nil
	default:
		return nil, fmt.Errorf("%w: storage %q", ErrUnknownMode, mode)
	}
}

// initRedis never fails: the client keeps reconnecting in the background and
// calls surface storage.ErrUnavailable until it succeeds.
func (r *Registry) initRedis(ctx context.Context) storage.Provider {
	client := redisclient.NewClient(redisclient.Options{
		Addr:           r.cfg.Redis.Addr,
		Password:       r.cfg.Redis.Password,
		DB:             r.cfg.Redis.DB,
		DialTimeout:    r.cfg.Redis.DialTimeout,
		CommandTimeout: r.cfg.Redis.CommandTimeout,
		ConnectWait:    r.cfg.Redis.ConnectWait,
		MaxBackoff:     r.cfg.Redis.MaxBackoff,
	})
	p := storage.NewRedisProvider(client)
	if err := p.Init(ctx); err != nil {
		r.logger.Warn("Redis not reachable at startup, continuing to reconnect", zap.String("addr", r.cfg.Redis.Addr), zap.Error(err))
	}
	return p
}

func (r *Registry) resolveBackend(ctx context.Context) (broker.Backend, error) {
	var backend broker.Backend
	switch r.cfg.Cart.MessagingMode {
	case ModeDapr:
		backend = broker.NewDaprBackend(r.sidecarClient(), r.cfg.Dapr.PubSub, r.cfg.Dapr.SidecarWait)
	case ModeKafka:
		backend = broker.NewKafkaBackend(r.cfg.Kafka.Brokers, r.cfg.Kafka.Topic, r.cfg.Kafka.Partitions, r.cfg.Kafka.ReplicationFactor)
	default:
		return nil, fmt.Errorf("%w: messaging %q", ErrUnknownMode, r.cfg.Cart.MessagingMode)
	}

	// Publishing is best-effort, so an unreachable broker does not stop startup.
	if err := backend.Init(ctx); err != nil {
		r.logger.Warn("Messaging backend not ready, events may be dropped",
			zap.String("backend", backend.Name()),
			zap.Error(err),
		)
	}
	return backend, nil
}

func (r *Registry) sidecarClient() *sidecar.Client {
	if r.sidecar == nil {
		r.sidecar = sidecar.NewClient(sidecar.Options{
			Endpoint:       r.cfg.Dapr.Endpoint,
			APIToken:       r.cfg.Dapr.APIToken,
			Timeout:        r.cfg.Dapr.Timeout,
			BreakerTimeout: r.cfg.Dapr.BreakerTimeout,
			Retries:        2,
		})
	}
	return r.sidecar
}

// Health reports per-component health.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	r.mu.Lock()
	store, backend := r.Storage, r.backend
	r.mu.Unlock()

	out := map[string]bool{"storage": false, "messaging": false}
	if store != nil {
		out["storage"] = store.Health(ctx)
	}
	if backend != nil {
		out["messaging"] = backend.Healthy(ctx)
	}
	return out
}

// Close releases the backends. It is safe to call more than once.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.inited {
		r.closed = true
		return nil
	}
	r.closed = true

	var errs []error
	if err := r.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s publisher: %w", r.backend.Name(), err))
	}
	if err := r.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s storage: %w", r.Storage.Name(), err))
	}
	r.logger.Info("Providers closed")
	return errors.Join(errs...)
}
