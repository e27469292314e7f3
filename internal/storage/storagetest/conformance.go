package storagetest

import (
	"context"
	"testing"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConformance checks the behavior every storage.Provider must share.
// newProvider must return an initialized provider with no stored data.
func RunConformance(t *testing.T, newProvider func(t *testing.T) storage.Provider) {
	t.Run("GetAbsent", func(t *testing.T) {
		p := newProvider(t)
		cart, err := p.Get(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Nil(t, cart)
	})

	t.Run("SaveGetRoundTrip", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

		cart := models.NewCart("u1", now, time.Hour)
		cart.Items = append(cart.Items, models.CartItem{
			ProductID:     "p1",
			ProductName:   "Shirt",
			SKU:           "SHIRT-RED-M",
			Price:         decimal.RequireFromString("19.99"),
			Quantity:      2,
			Subtotal:      decimal.RequireFromString("39.98"),
			SelectedColor: "red",
			SelectedSize:  "m",
			AddedAt:       now,
		})
		cart.TotalPrice = decimal.RequireFromString("39.98")
		cart.TotalItems = 2

		require.NoError(t, p.Save(ctx, cart, time.Hour))

		got, err := p.Get(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, cart.UserID, got.UserID)
		assert.True(t, cart.TotalPrice.Equal(got.TotalPrice))
		assert.Equal(t, cart.TotalItems, got.TotalItems)
		assert.True(t, cart.CreatedAt.Equal(got.CreatedAt))
		require.Len(t, got.Items, 1)
		assert.Equal(t, "SHIRT-RED-M", got.Items[0].SKU)
		assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("19.99")))
		assert.Equal(t, "red", got.Items[0].SelectedColor)
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		cart := models.NewCart("u2", time.Now(), time.Hour)
		require.NoError(t, p.Save(ctx, cart, time.Hour))

		cart.TotalItems = 7
		require.NoError(t, p.Save(ctx, cart, time.Hour))

		got, err := p.Get(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, 7, got.TotalItems)
	})

	t.Run("Delete", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		require.NoError(t, p.Save(ctx, models.NewCart("u3", time.Now(), time.Hour), time.Hour))
		require.NoError(t, p.Delete(ctx, "u3"))
		require.NoError(t, p.Delete(ctx, "u3"))

		got, err := p.Get(ctx, "u3")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		key := models.LockKey("u4")

		ok, err := p.SetIfAbsent(ctx, key, 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = p.SetIfAbsent(ctx, key, 30*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, p.DeleteKey(ctx, key))
		ok, err = p.SetIfAbsent(ctx, key, 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Health", func(t *testing.T) {
		p := newProvider(t)
		assert.True(t, p.Health(context.Background()))
	})
}
