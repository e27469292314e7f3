package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Total number of cart operations by outcome",
	}, []string{"operation", "outcome"})

	CartOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_operation_latency_seconds",
		Help:    "Latency of cart operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	CartLockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_lock_contention_total",
		Help: "Total number of mutations rejected because the cart lock was held",
	})

	CartsTransferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_transferred_total",
		Help: "Total number of guest carts merged into user carts",
	})

	StorageOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storage_operation_latency_seconds",
		Help:    "Latency of storage provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	StorageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_errors_total",
		Help: "Total number of failed storage provider calls",
	}, []string{"provider", "operation"})

	RedisConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_connection_state",
		Help: "Redis connection state (0 disconnected, 1 connecting, 2 ready, 3 closed)",
	})

	RedisConnectCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redis_connect_cycles_total",
		Help: "Total number of connect loops started, each shared by every waiting caller",
	})

	RedisReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redis_reconnects_total",
		Help: "Total number of Redis reconnect attempts",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of events published",
	}, []string{"backend", "topic"})

	EventsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_failed_total",
		Help: "Total number of events that could not be published",
	}, []string{"backend", "topic"})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "Total number of event jobs dropped because the dispatch queue was full",
	})

	SidecarBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sidecar_breaker_state",
		Help: "Sidecar circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
