package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"cart-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBackend writes every event to one declared topic. The event topic is
// the message key, so consumers route on it and events of one kind keep
// their order within a partition.
type KafkaBackend struct {
	brokers           []string
	topic             string
	partitions        int
	replicationFactor int
	writer            *kafka.Writer
	logger            *zap.Logger
}

// NewKafkaBackend creates a new Kafka backend
func NewKafkaBackend(brokers []string, topic string, partitions, replicationFactor int) *KafkaBackend {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &KafkaBackend{
		brokers:           brokers,
		topic:             topic,
		partitions:        partitions,
		replicationFactor: replicationFactor,
		writer:            writer,
		logger:            util.GetLogger(),
	}
}

func (k *KafkaBackend) Name() string { return "kafka" }

// Init declares the topic on the cluster controller.
func (k *KafkaBackend) Init(ctx context.Context) error {
	if len(k.brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}

	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer ctrlConn.Close()

	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             k.topic,
		NumPartitions:     k.partitions,
		ReplicationFactor: k.replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to declare topic %s: %w", k.topic, err)
	}

	k.logger.Info("Kafka publisher ready", zap.Strings("brokers", k.brokers), zap.String("topic", k.topic))
	return nil
}

func (k *KafkaBackend) Send(ctx context.Context, topic string, env *Envelope) error {
	msg, err := buildMessage(topic, env)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Healthy dials the first reachable broker.
func (k *KafkaBackend) Healthy(ctx context.Context) bool {
	for _, addr := range k.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return true
		}
	}
	return false
}

// Close closes the writer
func (k *KafkaBackend) Close() error {
	return k.writer.Close()
}

func buildMessage(topic string, env *Envelope) (kafka.Message, error) {
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	headers := []kafka.Header{
		{Key: "content-type", Value: []byte(CloudEventsContentType)},
		{Key: "ce_type", Value: []byte(env.Type)},
		{Key: "ce_id", Value: []byte(env.ID)},
		{Key: "ce_source", Value: []byte(env.Source)},
	}
	if env.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: "correlation-id", Value: []byte(env.CorrelationID)})
	}

	return kafka.Message{
		Key:     []byte(topic),
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}, nil
}
