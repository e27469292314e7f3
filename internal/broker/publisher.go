// Package broker publishes cart domain events in a CloudEvents envelope.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPublishFailed wraps backend errors in logs. It is never returned to
// callers of PublishEvent.
var ErrPublishFailed = errors.New("publish failed")

// CloudEventsContentType is the content type used when a backend sends the
// whole envelope as the message body.
const CloudEventsContentType = "application/cloudevents+json"

// Envelope is the CloudEvents 1.0 structured envelope plus a correlation id.
type Envelope struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	SpecVersion     string          `json:"specversion"`
	Time            string          `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
	CorrelationID   string          `json:"correlationId,omitempty"`
}

// NewEnvelope wraps payload for topic. The event type is "{namespace}.{topic}".
func NewEnvelope(source, namespace, topic string, payload interface{}, correlationID string, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Envelope{
		ID:              uuid.New().String(),
		Source:          source,
		Type:            namespace + "." + topic,
		SpecVersion:     models.CloudEventsVersion,
		Time:            now.UTC().Format(time.RFC3339),
		DataContentType: models.EventContentType,
		Data:            data,
		CorrelationID:   correlationID,
	}, nil
}

// Backend delivers envelopes to a message broker.
type Backend interface {
	Name() string
	Init(ctx context.Context) error
	Send(ctx context.Context, topic string, env *Envelope) error
	Healthy(ctx context.Context) bool
	Close() error
}

type Publisher struct {
	backend   Backend
	source    string
	namespace string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPublisher creates a new publisher over backend. Each send is bounded by timeout.
func NewPublisher(backend Backend, source, namespace string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{
		backend:   backend,
		source:    source,
		namespace: namespace,
		timeout:   timeout,
		logger:    util.GetLogger(),
	}
}

// PublishEvent wraps payload in an envelope and sends it. An empty
// correlationID is replaced by a fresh one. Failures, panics included, are
// logged and reported as false.
func (p *Publisher) PublishEvent(ctx context.Context, topic string, payload interface{}, correlationID string) (ok bool) {
	ctx, span := util.StartSpan(ctx, "Publisher.PublishEvent")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered panic while publishing event",
				zap.String("topic", topic),
				zap.Any("panic", r),
			)
			util.EventsFailedTotal.WithLabelValues(p.backend.Name(), topic).Inc()
			ok = false
		}
	}()

	if correlationID == "" {
		correlationID = util.NewCorrelationID()
	}

	env, err := NewEnvelope(p.source, p.namespace, topic, payload, correlationID, time.Now())
	if err != nil {
		p.logger.Error("Failed to build event envelope", zap.String("topic", topic), zap.Error(err))
		util.EventsFailedTotal.WithLabelValues(p.backend.Name(), topic).Inc()
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.backend.Send(ctx, topic, env); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("backend", p.backend.Name()),
			zap.String("topic", topic),
			zap.String("event_id", env.ID),
			zap.String("correlation_id", correlationID),
			zap.Error(fmt.Errorf("%w: %w", ErrPublishFailed, err)),
		)
		util.EventsFailedTotal.WithLabelValues(p.backend.Name(), topic).Inc()
		return false
	}

	util.EventsPublishedTotal.WithLabelValues(p.backend.Name(), topic).Inc()
	p.logger.Debug("Published event",
		zap.String("topic", topic),
		zap.String("event_id", env.ID),
		zap.String("correlation_id", correlationID),
	)
	return true
}
