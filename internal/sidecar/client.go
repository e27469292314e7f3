// Package sidecar talks to the local Dapr sidecar over its HTTP API.
package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cart-service/internal/util"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	apiTokenHeader = "dapr-api-token"

	ConcurrencyFirstWrite = "first-write"
	ConcurrencyLastWrite  = "last-write"
	ConsistencyStrong     = "strong"
)

var (
	// ErrConflict is returned by SaveIfAbsent when the key already exists.
	ErrConflict = errors.New("sidecar: key already exists")
	// ErrBreakerOpen wraps gobreaker's rejection so callers need not import it.
	ErrBreakerOpen = errors.New("sidecar: circuit open")
)

// StatusError is a non-2xx answer from the sidecar.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sidecar %s: status %d: %s", e.Op, e.Status, e.Body)
}

type StateOptions struct {
	Concurrency string `json:"concurrency,omitempty"`
	Consistency string `json:"consistency,omitempty"`
}

type StateItem struct {
	Key      string            `json:"key"`
	Value    json.RawMessage   `json:"value"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Options  *StateOptions     `json:"options,omitempty"`
}

type Options struct {
	Endpoint       string
	APIToken       string
	Timeout        time.Duration
	BreakerTimeout time.Duration
	Retries        int
}

type Client struct {
	http    *resty.Client
	noRetry *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a new sidecar client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 15 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	logger := util.GetLogger()

	base := func() *resty.Client {
		rc := resty.New().
			SetBaseURL(opts.Endpoint).
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json")
		if opts.APIToken != "" {
			rc.SetHeader(apiTokenHeader, opts.APIToken)
		}
		return rc
	}

	httpClient := base().
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dapr-sidecar",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			util.SidecarBreakerState.WithLabelValues(name).Set(breakerGauge(to))
			logger.Warn("Sidecar breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		http:    httpClient,
		noRetry: base(),
		breaker: breaker,
		logger:  logger,
	}
}

// GetState returns the raw value stored under key, or nil when absent.
func (c *Client) GetState(ctx context.Context, store, key string) ([]byte, error) {
	out, err := c.do(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParams(map[string]string{"store": store, "key": key}).
			SetQueryParam("consistency", ConsistencyStrong).
			Get("/v1.0/state/{store}/{key}")
		if err != nil {
			return nil, fmt.Errorf("sidecar get state: %w", err)
		}
		if resp.StatusCode() == http.StatusNoContent || (resp.IsSuccess() && len(resp.Body()) == 0) {
			return []byte(nil), nil
		}
		if !resp.IsSuccess() {
			return nil, statusError("get state", resp)
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// SaveState upserts items with last-write concurrency unless an item carries
// its own options.
func (c *Client) SaveState(ctx context.Context, store string, items ...StateItem) error {
	for i := range items {
		if items[i].Options == nil {
			items[i].Options = &StateOptions{Concurrency: ConcurrencyLastWrite, Consistency: ConsistencyStrong}
		}
	}
	_, err := c.do(func() (interface{}, error) {
		return nil, c.postState(ctx, c.http, store, items)
	})
	return err
}

// SaveIfAbsent writes key only when it does not exist yet. It is never
// retried: a retry after a lost response would see its own write as a
// conflict.
func (c *Client) SaveIfAbsent(ctx context.Context, store, key string, value []byte, ttl time.Duration) error {
	item := StateItem{
		Key:     key,
		Value:   value,
		Options: &StateOptions{Concurrency: ConcurrencyFirstWrite, Consistency: ConsistencyStrong},
	}
	if ttl > 0 {
		item.Metadata = TTLMetadata(ttl)
	}
	_, err := c.do(func() (interface{}, error) {
		err := c.postState(ctx, c.noRetry, store, []StateItem{item})
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusConflict || se.Status == http.StatusPreconditionFailed) {
			return nil, ErrConflict
		}
		return nil, err
	})
	return err
}

// DeleteState removes key. Deleting a missing key succeeds.
func (c *Client) DeleteState(ctx context.Context, store, key string) error {
	_, err := c.do(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParams(map[string]string{"store": store, "key": key}).
			Delete("/v1.0/state/{store}/{key}")
		if err != nil {
			return nil, fmt.Errorf("sidecar delete state: %w", err)
		}
		if !resp.IsSuccess() {
			return nil, statusError("delete state", resp)
		}
		return nil, nil
	})
	return err
}

// Publish posts body to a pub/sub topic.
func (c *Client) Publish(ctx context.Context, pubsub, topic string, body []byte, contentType string) error {
	_, err := c.do(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParams(map[string]string{"pubsub": pubsub, "topic": topic}).
			SetHeader("Content-Type", contentType).
			SetBody(body).
			Post("/v1.0/publish/{pubsub}/{topic}")
		if err != nil {
			return nil, fmt.Errorf("sidecar publish: %w", err)
		}
		if !resp.IsSuccess() {
			return nil, statusError("publish", resp)
		}
		return nil, nil
	})
	return err
}

// Healthy reports whether the sidecar answers its health endpoint. The
// breaker is bypassed so health reflects the sidecar, not past failures.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.noRetry.R().SetContext(ctx).Get("/v1.0/healthz")
	return err == nil && resp.IsSuccess()
}

// WaitForSidecar polls the outbound health endpoint until it succeeds or
// wait elapses.
func (c *Client) WaitForSidecar(ctx context.Context, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		resp, err := c.noRetry.R().SetContext(ctx).Get("/v1.0/healthz/outbound")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = statusError("healthz", resp)
			}
			return fmt.Errorf("sidecar not reachable after %s: %w", wait, err)
		case <-ticker.C:
		}
	}
}

// TTLMetadata is the state metadata requesting expiry after ttl.
func TTLMetadata(ttl time.Duration) map[string]string {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return map[string]string{"ttlInSeconds": strconv.FormatInt(secs, 10)}
}

func (c *Client) postState(ctx context.Context, rc *resty.Client, store string, items []StateItem) error {
	resp, err := rc.R().
		SetContext(ctx).
		SetPathParam("store", store).
		SetHeader("Content-Type", "application/json").
		SetBody(items).
		Post("/v1.0/state/{store}")
	if err != nil {
		return fmt.Errorf("sidecar save state: %w", err)
	}
	if !resp.IsSuccess() {
		return statusError("save state", resp)
	}
	return nil
}

func (c *Client) do(fn func() (interface{}, error)) (interface{}, error) {
	out, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	return out, err
}

func statusError(op string, resp *resty.Response) error {
	body := resp.String()
	if len(body) > 256 {
		body = body[:256]
	}
	return &StatusError{Op: op, Status: resp.StatusCode(), Body: body}
}

// countsAsFailure is true for transport errors and 5xx answers. Conflicts,
// other 4xx answers and caller cancellation do not count against the sidecar.
func countsAsFailure(err error) bool {
	if errors.Is(err, ErrConflict) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError
	}
	return true
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
