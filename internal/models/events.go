package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event topics
const (
	TopicItemAdded     = "cart.item.added"
	TopicItemUpdated   = "cart.item.updated"
	TopicItemRemoved   = "cart.item.removed"
	TopicCartCleared   = "cart.cleared"
	TopicTransferred   = "cart.transferred"
	CloudEventsVersion = "1.0"
	EventContentType   = "application/json"
)

// ItemEvent carries the item and a cart summary after the mutation.
type ItemEvent struct {
	UserID          string          `json:"userId"`
	CartID          string          `json:"cartId"`
	SKU             string          `json:"sku"`
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Category        string          `json:"category,omitempty"`
	ImageURL        string          `json:"imageUrl,omitempty"`
	SelectedColor   string          `json:"selectedColor,omitempty"`
	SelectedSize    string          `json:"selectedSize,omitempty"`
	CartItemCount   int             `json:"cartItemCount"`
	CartTotalAmount decimal.Decimal `json:"cartTotalAmount"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ItemUpdatedEvent published when a quantity changes
type ItemUpdatedEvent struct {
	ItemEvent
	OldQuantity    int `json:"oldQuantity"`
	NewQuantity    int `json:"newQuantity"`
	QuantityChange int `json:"quantityChange"`
}

// CartClearedEvent published when a cart is emptied
type CartClearedEvent struct {
	UserID             string          `json:"userId"`
	CartID             string          `json:"cartId"`
	ClearedItemCount   int             `json:"clearedItemCount"`
	ClearedTotalAmount decimal.Decimal `json:"clearedTotalAmount"`
	CartItemCount      int             `json:"cartItemCount"`
	CartTotalAmount    decimal.Decimal `json:"cartTotalAmount"`
	Timestamp          time.Time       `json:"timestamp"`
}

// CartTransferredEvent published when a guest cart is merged into a user cart
type CartTransferredEvent struct {
	FromGuestID          string          `json:"fromGuestId"`
	ToUserID             string          `json:"toUserId"`
	TransferredItemCount int             `json:"transferredItemCount"`
	CartItemCount        int             `json:"cartItemCount"`
	CartTotalAmount      decimal.Decimal `json:"cartTotalAmount"`
	Timestamp            time.Time       `json:"timestamp"`
}

// NewItemEvent builds the common item payload.
func NewItemEvent(cart *Cart, item CartItem, at time.Time) ItemEvent {
	return ItemEvent{
		UserID:          cart.UserID,
		CartID:          cart.UserID,
		SKU:             item.SKU,
		ProductID:       item.ProductID,
		ProductName:     item.ProductName,
		Quantity:        item.Quantity,
		Price:           item.Price,
		Category:        item.Category,
		ImageURL:        item.ImageURL,
		SelectedColor:   item.SelectedColor,
		SelectedSize:    item.SelectedSize,
		CartItemCount:   len(cart.Items),
		CartTotalAmount: cart.TotalPrice,
		Timestamp:       at,
	}
}
