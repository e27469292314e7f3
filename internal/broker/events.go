package broker

import (
	"context"
	"time"

	"cart-service/internal/models"
)

// CartEventPublisher builds the cart domain events and hands them to the
// publisher. Every method is best-effort and reports success as a bool.
type CartEventPublisher struct {
	publisher *Publisher
	now       func() time.Time
}

// NewCartEventPublisher creates a new cart event publisher
func NewCartEventPublisher(publisher *Publisher) *CartEventPublisher {
	return &CartEventPublisher{publisher: publisher, now: time.Now}
}

// PublishItemAdded publishes cart.item.added
func (ep *CartEventPublisher) PublishItemAdded(ctx context.Context, cart *models.Cart, item models.CartItem, correlationID string) bool {
	event := models.NewItemEvent(cart, item, ep.now())
	return ep.publisher.PublishEvent(ctx, models.TopicItemAdded, event, correlationID)
}

// PublishItemUpdated publishes cart.item.updated
func (ep *CartEventPublisher) PublishItemUpdated(ctx context.Context, cart *models.Cart, item models.CartItem, oldQuantity int, correlationID string) bool {
	event := models.ItemUpdatedEvent{
		ItemEvent:      models.NewItemEvent(cart, item, ep.now()),
		OldQuantity:    oldQuantity,
		NewQuantity:    item.Quantity,
		QuantityChange: item.Quantity - oldQuantity,
	}
	return ep.publisher.PublishEvent(ctx, models.TopicItemUpdated, event, correlationID)
}

// PublishItemRemoved publishes cart.item.removed. item is the line as it was
// before removal.
func (ep *CartEventPublisher) PublishItemRemoved(ctx context.Context, cart *models.Cart, item models.CartItem, correlationID string) bool {
	event := models.NewItemEvent(cart, item, ep.now())
	return ep.publisher.PublishEvent(ctx, models.TopicItemRemoved, event, correlationID)
}

// PublishCartCleared publishes cart.cleared
func (ep *CartEventPublisher) PublishCartCleared(ctx context.Context, before, after *models.Cart, correlationID string) bool {
	event := models.CartClearedEvent{
		UserID:             after.UserID,
		CartID:             after.UserID,
		ClearedItemCount:   len(before.Items),
		ClearedTotalAmount: before.TotalPrice,
		CartItemCount:      len(after.Items),
		CartTotalAmount:    after.TotalPrice,
		Timestamp:          ep.now(),
	}
	return ep.publisher.PublishEvent(ctx, models.TopicCartCleared, event, correlationID)
}

// PublishCartTransferred publishes cart.transferred
func (ep *CartEventPublisher) PublishCartTransferred(ctx context.Context, guestID string, merged *models.Cart, transferred int, correlationID string) bool {
	event := models.CartTransferredEvent{
		FromGuestID:          guestID,
		ToUserID:             merged.UserID,
		TransferredItemCount: transferred,
		CartItemCount:        len(merged.Items),
		CartTotalAmount:      merged.TotalPrice,
		Timestamp:            ep.now(),
	}
	return ep.publisher.PublishEvent(ctx, models.TopicTransferred, event, correlationID)
}

