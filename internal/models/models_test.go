package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "cart:u1", CartKey("u1"))
	assert.Equal(t, "cart:guest:g1", CartKey(GuestOwnerID("g1")))
	assert.Equal(t, "lock:cart:u1", LockKey("u1"))
	assert.Equal(t, "guest:g1", GuestOwnerID("guest:g1"))
	assert.True(t, IsGuest("guest:g1"))
	assert.False(t, IsGuest("u1"))
}

func TestCloneDoesNotAliasItems(t *testing.T) {
	now := time.Now()
	c := NewCart("u1", now, time.Hour)
	c.Items = append(c.Items, CartItem{SKU: "A", Quantity: 1, Price: decimal.NewFromInt(3)})

	cp := c.Clone()
	cp.Items[0].Quantity = 9

	assert.Equal(t, 1, c.Items[0].Quantity)
}

func TestCartJSONFieldNames(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewCart("u1", now, time.Hour)
	c.Items = append(c.Items, CartItem{ProductID: "p1", SKU: "A", Price: decimal.NewFromInt(10), Quantity: 2, Subtotal: decimal.NewFromInt(20), AddedAt: now})

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, field := range []string{"userId", "items", "totalPrice", "totalItems", "createdAt", "updatedAt", "expiresAt"} {
		assert.Contains(t, raw, field)
	}
	item := raw["items"].([]any)[0].(map[string]any)
	assert.NotContains(t, item, "imageUrl")
	assert.Contains(t, item, "subtotal")
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	c := NewCart("u1", now, time.Minute)
	assert.False(t, c.IsExpired(now))
	assert.True(t, c.IsExpired(now.Add(2*time.Minute)))
}
