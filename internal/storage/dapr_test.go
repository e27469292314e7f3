package storage_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/sidecar"
	"cart-service/internal/sidecar/sidecartest"
	"cart-service/internal/storage"
	"cart-service/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDaprProvider(t *testing.T, fake *sidecartest.Sidecar) *storage.DaprProvider {
	t.Helper()
	client := sidecar.NewClient(sidecar.Options{
		Endpoint:       fake.URL,
		Timeout:        time.Second,
		BreakerTimeout: time.Minute,
	})
	return storage.NewDaprProvider(client, "statestore", 60*time.Second, time.Second)
}

func TestDaprConformance(t *testing.T) {
	storagetest.RunConformance(t, func(t *testing.T) storage.Provider {
		p := newDaprProvider(t, sidecartest.New(t))
		require.NoError(t, p.Init(context.Background()))
		return p
	})
}

func TestDaprTTLFloor(t *testing.T) {
	fake := sidecartest.New(t)
	p := newDaprProvider(t, fake)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, models.NewCart("u1", time.Now(), time.Hour), 10*time.Second))
	assert.Equal(t, "60", fake.Metadata("statestore", "cart:u1")["ttlInSeconds"])

	require.NoError(t, p.Save(ctx, models.NewCart("u2", time.Now(), time.Hour), 72*time.Hour))
	assert.Equal(t, "259200", fake.Metadata("statestore", "cart:u2")["ttlInSeconds"])
}

func TestDaprStoresPlainJSONRecord(t *testing.T) {
	fake := sidecartest.New(t)
	p := newDaprProvider(t, fake)

	require.NoError(t, p.Save(context.Background(), models.NewCart("u1", time.Now(), time.Hour), time.Hour))

	raw, ok := fake.Value("statestore", "cart:u1")
	require.True(t, ok)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "u1", rec["userId"])
}

func TestDaprUnavailableIsNotAbsent(t *testing.T) {
	fake := sidecartest.New(t)
	p := newDaprProvider(t, fake)
	ctx := context.Background()

	fake.FailNext(1)
	got, err := p.Get(ctx, "u1")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	fake.FailNext(1)
	_, err = p.SetIfAbsent(ctx, "lock:cart:u1", 30*time.Second)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestDaprInitFailsWhenSidecarDown(t *testing.T) {
	fake := sidecartest.New(t)
	fake.SetHealthy(false)
	p := newDaprProvider(t, fake)

	assert.ErrorIs(t, p.Init(context.Background()), storage.ErrUnavailable)
	assert.False(t, p.Health(context.Background()))
}
