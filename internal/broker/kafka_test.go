package broker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	env, err := NewEnvelope("cart-service", "com.xshopai", "cart.item.added", map[string]int{"q": 1}, "corr-7", time.Now())
	require.NoError(t, err)

	msg, err := buildMessage("cart.item.added", env)
	require.NoError(t, err)

	assert.Equal(t, "cart.item.added", string(msg.Key))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "com.xshopai.cart.item.added", headers["ce_type"])
	assert.Equal(t, env.ID, headers["ce_id"])
	assert.Equal(t, "corr-7", headers["correlation-id"])
	assert.Equal(t, CloudEventsContentType, headers["content-type"])

	var decoded Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, env.ID, decoded.ID)
}

func TestBuildMessageWithoutCorrelation(t *testing.T) {
	env, err := NewEnvelope("cart-service", "com.xshopai", "cart.cleared", struct{}{}, "", time.Now())
	require.NoError(t, err)

	msg, err := buildMessage("cart.cleared", env)
	require.NoError(t, err)
	for _, h := range msg.Headers {
		assert.NotEqual(t, "correlation-id", h.Key)
	}
}

func TestKafkaHealthyUnreachable(t *testing.T) {
	k := NewKafkaBackend([]string{"127.0.0.1:1"}, "xshopai.events", 1, 1)
	defer k.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.False(t, k.Healthy(ctx))
}

func TestKafkaPublishIntegration(t *testing.T) {
	brokers := os.Getenv("KAFKA_TEST_BROKERS")
	if brokers == "" {
		t.Skip("Integration test - requires Kafka (set KAFKA_TEST_BROKERS)")
	}

	k := NewKafkaBackend([]string{brokers}, "cart-service-test", 1, 1)
	defer k.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, k.Init(ctx))
	require.NoError(t, k.Init(ctx), "declaring an existing topic succeeds")

	p := NewPublisher(k, "cart-service", "com.xshopai", 10*time.Second)
	assert.True(t, p.PublishEvent(ctx, "cart.item.added", map[string]string{"sku": "A"}, "it"))
}
