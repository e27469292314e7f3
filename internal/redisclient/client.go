package redisclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"cart-service/internal/util"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State of the shared connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrClosed   = errors.New("redis client closed")
	ErrNotReady = errors.New("redis connection not ready")
)

type Options struct {
	Addr           string
	Password       string
	DB             int
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	ConnectWait    time.Duration
	MaxBackoff     time.Duration
}

// Client owns one go-redis client and tracks whether it is usable. Callers ask
// for the connection with Conn; a single background loop reconnects with
// exponential backoff while every caller waits at most ConnectWait.
type Client struct {
	opts   Options
	rdb    *redis.Client
	logger *zap.Logger

	mu    sync.RWMutex
	state State
	group singleflight.Group

	lifetime context.Context
	cancel   context.CancelFunc
}

// NewClient creates a new Redis client. No connection is made until Conn.
func NewClient(opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.ConnectWait <= 0 {
		opts.ConnectWait = 10 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.CommandTimeout,
		WriteTimeout: opts.CommandTimeout,
	})

	lifetime, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:     opts,
		rdb:      rdb,
		logger:   util.GetLogger(),
		lifetime: lifetime,
		cancel:   cancel,
	}
	util.RedisConnectionState.Set(float64(StateDisconnected))
	return c
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CommandTimeout is the per-command deadline callers should apply.
func (c *Client) CommandTimeout() time.Duration {
	return c.opts.CommandTimeout
}

// Conn returns the underlying client once it is ready. When it is not, the
// caller joins the in-flight connect attempt and gives up after ConnectWait.
func (c *Client) Conn(ctx context.Context) (*redis.Client, error) {
	switch c.State() {
	case StateReady:
		return c.rdb, nil
	case StateClosed:
		return nil, ErrClosed
	}

	ch := c.group.DoChan("connect", func() (interface{}, error) {
		return nil, c.connect()
	})

	timer := time.NewTimer(c.opts.ConnectWait)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return c.rdb, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: still %s after %s", ErrNotReady, c.State(), c.opts.ConnectWait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connect pings until the server answers or the client is closed.
func (c *Client) connect() error {
	switch c.State() {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	}
	c.setState(StateConnecting)
	util.RedisConnectCyclesTotal.Inc()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = c.opts.MaxBackoff

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(c.lifetime, c.opts.DialTimeout)
		err := c.rdb.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			c.setState(StateReady)
			if attempt > 1 {
				c.logger.Info("Redis connection restored", zap.String("addr", c.opts.Addr), zap.Int("attempts", attempt))
			}
			return nil
		}
		if c.lifetime.Err() != nil {
			return ErrClosed
		}

		util.RedisReconnectsTotal.Inc()
		wait := b.NextBackOff()
		c.logger.Warn("Redis connect failed, retrying",
			zap.String("addr", c.opts.Addr),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		t := time.NewTimer(wait)
		select {
		case <-c.lifetime.Done():
			t.Stop()
			return ErrClosed
		case <-t.C:
		}
	}
}

// MarkBroken moves a ready client back to disconnected when err is a
// connection-level failure, so the next Conn reconnects. It reports whether
// the state changed.
func (c *Client) MarkBroken(err error) bool {
	if !IsConnError(err) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return false
	}
	c.state = StateDisconnected
	util.RedisConnectionState.Set(float64(StateDisconnected))
	c.logger.Warn("Redis connection lost", zap.String("addr", c.opts.Addr), zap.Error(err))
	return true
}

// Ping checks the server through the managed connection.
func (c *Client) Ping(ctx context.Context) error {
	rdb, err := c.Conn(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		c.MarkBroken(err)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close stops any reconnect loop and closes the Redis connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	util.RedisConnectionState.Set(float64(StateClosed))
	c.cancel()
	return c.rdb.Close()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = s
	util.RedisConnectionState.Set(float64(s))
}

// IsConnError reports whether err means the connection itself is unusable.
func IsConnError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
