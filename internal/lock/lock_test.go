package lock

import (
	"context"
	"testing"
	"time"

	"cart-service/internal/redisclient"
	"cart-service/internal/storage"
	"cart-service/internal/storage/storagetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireTwiceUntilRelease(t *testing.T) {
	l := NewLocker(storagetest.NewMemory(), 0)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "u1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "u1", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Acquire(ctx, "u2", 0)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per owner")

	require.NoError(t, l.Release(ctx, "u1"))
	ok, err = l.Acquire(ctx, "u1", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseWithoutLockIsNoop(t *testing.T) {
	l := NewLocker(storagetest.NewMemory(), time.Second)
	assert.NoError(t, l.Release(context.Background(), "nobody"))
}

func TestLockExpiresAfterTTL(t *testing.T) {
	s := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Options{Addr: s.Addr(), ConnectWait: time.Second})
	p := storage.NewRedisProvider(client)
	t.Cleanup(func() { _ = p.Close() })

	l := NewLocker(p, 30*time.Second)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "u1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, s.TTL("lock:cart:u1"))

	s.FastForward(29 * time.Second)
	ok, err = l.Acquire(ctx, "u1", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	s.FastForward(2 * time.Second)
	ok, err = l.Acquire(ctx, "u1", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireSurfacesBackendErrors(t *testing.T) {
	m := storagetest.NewMemory()
	m.SetDown(true)
	l := NewLocker(m, time.Second)

	ok, err := l.Acquire(context.Background(), "u1", 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
