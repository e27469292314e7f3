package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Key prefixes shared by every storage backend.
const (
	CartKeyPrefix  = "cart:"
	LockKeyPrefix  = "lock:cart:"
	GuestIDPrefix  = "guest:"
	DefaultLockTTL = 30 * time.Second
)

// CartItem is one line of a cart. SKU is unique within a cart and encodes the
// selected variant.
type CartItem struct {
	ProductID     string          `json:"productId"`
	ProductName   string          `json:"productName"`
	SKU           string          `json:"sku"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int             `json:"quantity"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ImageURL      string          `json:"imageUrl,omitempty"`
	Category      string          `json:"category,omitempty"`
	SelectedColor string          `json:"selectedColor,omitempty"`
	SelectedSize  string          `json:"selectedSize,omitempty"`
	AddedAt       time.Time       `json:"addedAt"`
}

// Cart is the persisted record for a user or guest.
type Cart struct {
	UserID     string          `json:"userId"`
	Items      []CartItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	TotalItems int             `json:"totalItems"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
}

// NewCart returns an empty cart expiring ttl after now.
func NewCart(userID string, now time.Time, ttl time.Duration) *Cart {
	return &Cart{
		UserID:     userID,
		Items:      []CartItem{},
		TotalPrice: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Clone returns a deep copy so callers can mutate without aliasing items.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return &out
}

// FindItem returns the index of sku, or -1.
func (c *Cart) FindItem(sku string) int {
	for i := range c.Items {
		if c.Items[i].SKU == sku {
			return i
		}
	}
	return -1
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// CartKey is the storage key for a cart owner: cart:{userId} or cart:guest:{guestId}.
func CartKey(ownerID string) string {
	return CartKeyPrefix + ownerID
}

// LockKey is the advisory lock key for a cart owner.
func LockKey(ownerID string) string {
	return LockKeyPrefix + ownerID
}

// GuestOwnerID turns a client generated guest id into a cart owner id.
func GuestOwnerID(guestID string) string {
	if IsGuest(guestID) {
		return guestID
	}
	return GuestIDPrefix + guestID
}

func IsGuest(ownerID string) bool {
	return strings.HasPrefix(ownerID, GuestIDPrefix)
}

// Product is the catalog view used to enrich add requests.
type Product struct {
	ID       string          `db:"id" json:"id"`
	SKU      string          `db:"sku" json:"sku"`
	Name     string          `db:"name" json:"name"`
	Price    decimal.Decimal `db:"price" json:"price"`
	ImageURL string          `db:"image_url" json:"imageUrl"`
	Category string          `db:"category" json:"category"`
	IsActive bool            `db:"is_active" json:"isActive"`
}

// Inventory represents variant stock
type Inventory struct {
	SKU       string    `db:"sku" json:"sku"`
	Available int       `db:"available" json:"available"`
	Reserved  int       `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
