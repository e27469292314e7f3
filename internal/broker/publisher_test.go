package broker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cart-service/internal/broker"
	"cart-service/internal/broker/brokertest"
	"cart-service/internal/models"
	"cart-service/internal/sidecar"
	"cart-service/internal/sidecar/sidecartest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	env, err := broker.NewEnvelope("cart-service", "com.xshopai", "cart.item.added", map[string]int{"quantity": 2}, "corr-1", now)
	require.NoError(t, err)

	_, err = uuid.Parse(env.ID)
	assert.NoError(t, err)
	assert.Equal(t, "cart-service", env.Source)
	assert.Equal(t, "com.xshopai.cart.item.added", env.Type)
	assert.Equal(t, "1.0", env.SpecVersion)
	assert.Equal(t, "2026-05-06T07:08:09Z", env.Time)
	assert.Equal(t, "application/json", env.DataContentType)
	assert.JSONEq(t, `{"quantity":2}`, string(env.Data))
	assert.Equal(t, "corr-1", env.CorrelationID)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, f := range []string{"id", "source", "type", "specversion", "time", "datacontenttype", "data", "correlationId"} {
		assert.Contains(t, fields, f)
	}
}

func TestPublishEventSuccess(t *testing.T) {
	rec := brokertest.NewRecorder()
	p := broker.NewPublisher(rec, "cart-service", "com.xshopai", time.Second)

	ok := p.PublishEvent(context.Background(), models.TopicCartCleared, map[string]string{"userId": "u1"}, "c1")
	assert.True(t, ok)

	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.TopicCartCleared, sent[0].Topic)
	assert.Equal(t, "com.xshopai.cart.cleared", sent[0].Envelope.Type)
	assert.Equal(t, "c1", sent[0].Envelope.CorrelationID)
}

func TestPublishEventGeneratesCorrelationID(t *testing.T) {
	rec := brokertest.NewRecorder()
	p := broker.NewPublisher(rec, "cart-service", "com.xshopai", time.Second)

	require.True(t, p.PublishEvent(context.Background(), models.TopicItemAdded, struct{}{}, ""))
	require.True(t, p.PublishEvent(context.Background(), models.TopicItemAdded, struct{}{}, ""))

	sent := rec.Sent()
	require.Len(t, sent, 2)
	_, err := uuid.Parse(sent[0].Envelope.CorrelationID)
	assert.NoError(t, err)
	assert.NotEqual(t, sent[0].Envelope.CorrelationID, sent[1].Envelope.CorrelationID)

	raw, err := json.Marshal(sent[0].Envelope)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"correlationId"`)
}

func TestPublishEventFailureReturnsFalse(t *testing.T) {
	rec := brokertest.NewRecorder()
	rec.SetFail(true)
	p := broker.NewPublisher(rec, "cart-service", "com.xshopai", time.Second)

	assert.False(t, p.PublishEvent(context.Background(), models.TopicItemAdded, struct{}{}, ""))
}

func TestPublishEventRecoversPanic(t *testing.T) {
	rec := brokertest.NewRecorder()
	rec.SetPanic(true)
	p := broker.NewPublisher(rec, "cart-service", "com.xshopai", time.Second)

	assert.NotPanics(t, func() {
		assert.False(t, p.PublishEvent(context.Background(), models.TopicItemAdded, struct{}{}, ""))
	})
}

func TestPublishEventUnmarshalablePayload(t *testing.T) {
	rec := brokertest.NewRecorder()
	p := broker.NewPublisher(rec, "cart-service", "com.xshopai", time.Second)

	assert.False(t, p.PublishEvent(context.Background(), models.TopicItemAdded, make(chan int), ""))
	assert.Empty(t, rec.Sent())
}

func TestDaprBackendSendsStructuredCloudEvent(t *testing.T) {
	fake := sidecartest.New(t)
	client := sidecar.NewClient(sidecar.Options{Endpoint: fake.URL, Timeout: time.Second})
	backend := broker.NewDaprBackend(client, "pubsub", time.Second)
	require.NoError(t, backend.Init(context.Background()))

	p := broker.NewPublisher(backend, "cart-service", "com.xshopai", time.Second)
	require.True(t, p.PublishEvent(context.Background(), models.TopicItemRemoved, map[string]string{"sku": "A"}, "c9"))

	pubs := fake.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "pubsub", pubs[0].PubSub)
	assert.Equal(t, models.TopicItemRemoved, pubs[0].Topic)
	assert.Equal(t, broker.CloudEventsContentType, pubs[0].ContentType)

	var env broker.Envelope
	require.NoError(t, json.Unmarshal(pubs[0].Body, &env))
	assert.Equal(t, "com.xshopai.cart.item.removed", env.Type)
	assert.Equal(t, "c9", env.CorrelationID)
}

func TestDaprBackendFailureIsSwallowed(t *testing.T) {
	fake := sidecartest.New(t)
	fake.FailNext(1)
	client := sidecar.NewClient(sidecar.Options{Endpoint: fake.URL, Timeout: time.Second})
	p := broker.NewPublisher(broker.NewDaprBackend(client, "pubsub", time.Second), "cart-service", "com.xshopai", time.Second)

	assert.False(t, p.PublishEvent(context.Background(), models.TopicItemAdded, struct{}{}, ""))
}

func TestCartEventPublisherPayloads(t *testing.T) {
	rec := brokertest.NewRecorder()
	ep := broker.NewCartEventPublisher(broker.NewPublisher(rec, "cart-service", "com.xshopai", time.Second))
	ctx := context.Background()

	cart := models.NewCart("u1", time.Now(), time.Hour)
	item := models.CartItem{ProductID: "p1", SKU: "A", Price: decimal.NewFromInt(10), Quantity: 3, Subtotal: decimal.NewFromInt(30)}
	cart.Items = []models.CartItem{item}
	cart.TotalPrice = decimal.NewFromInt(30)
	cart.TotalItems = 3

	require.True(t, ep.PublishItemAdded(ctx, cart, item, "c"))
	require.True(t, ep.PublishItemUpdated(ctx, cart, item, 1, "c"))
	require.True(t, ep.PublishItemRemoved(ctx, cart, item, "c"))
	require.True(t, ep.PublishCartCleared(ctx, cart, models.NewCart("u1", time.Now(), time.Hour), "c"))
	require.True(t, ep.PublishCartTransferred(ctx, "g1", cart, 1, "c"))

	assert.Equal(t, []string{
		models.TopicItemAdded,
		models.TopicItemUpdated,
		models.TopicItemRemoved,
		models.TopicCartCleared,
		models.TopicTransferred,
	}, rec.Topics())

	sent := rec.Sent()

	var updated models.ItemUpdatedEvent
	require.NoError(t, json.Unmarshal(sent[1].Envelope.Data, &updated))
	assert.Equal(t, 1, updated.OldQuantity)
	assert.Equal(t, 3, updated.NewQuantity)
	assert.Equal(t, 2, updated.QuantityChange)
	assert.Equal(t, "A", updated.SKU)

	var cleared models.CartClearedEvent
	require.NoError(t, json.Unmarshal(sent[3].Envelope.Data, &cleared))
	assert.Equal(t, 1, cleared.ClearedItemCount)
	assert.True(t, cleared.ClearedTotalAmount.Equal(decimal.NewFromInt(30)))
	assert.Zero(t, cleared.CartItemCount)

	var transferred models.CartTransferredEvent
	require.NoError(t, json.Unmarshal(sent[4].Envelope.Data, &transferred))
	assert.Equal(t, "g1", transferred.FromGuestID)
	assert.Equal(t, "u1", transferred.ToUserID)
	assert.Equal(t, 1, transferred.TransferredItemCount)
}
