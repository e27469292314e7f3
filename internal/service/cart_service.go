package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cart-service/internal/broker"
	"cart-service/internal/cart"
	"cart-service/internal/lock"
	"cart-service/internal/models"
	"cart-service/internal/storage"
	"cart-service/internal/util"
	"cart-service/internal/worker"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrCartNotFound       = errors.New("cart not found")
	ErrBusy               = errors.New("cart is being modified, try again")
	ErrInvalidOwner       = errors.New("invalid cart owner")
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product is not available")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrCatalogUnavailable = errors.New("product catalog unavailable")
)

const releaseTimeout = 5 * time.Second

// ProductCatalog resolves products for add requests that do not carry them.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

type InventoryChecker interface {
	CheckAvailability(ctx context.Context, sku string, quantity int) (bool, error)
}

type Options struct {
	MaxItems    int
	MaxQuantity int
	DefaultTTL  time.Duration
	GuestTTL    time.Duration
	LockTTL     time.Duration
}

// AddItemRequest is an add-to-cart call. When SKU, ProductName and Price are
// all set the item is taken as-is; otherwise it is resolved from the catalog.
type AddItemRequest struct {
	ProductID     string           `json:"productId" binding:"required"`
	ProductName   string           `json:"productName"`
	SKU           string           `json:"sku"`
	Price         *decimal.Decimal `json:"price"`
	Quantity      int              `json:"quantity"`
	ImageURL      string           `json:"imageUrl"`
	Category      string           `json:"category"`
	SelectedColor string           `json:"selectedColor"`
	SelectedSize  string           `json:"selectedSize"`
}

// CartService runs every cart mutation as
// lock, read, mutate, persist, unlock, then publishes in the background.
type CartService struct {
	storage    storage.Provider
	locker     *lock.Locker
	events     *broker.CartEventPublisher
	dispatcher *worker.Dispatcher
	catalog    ProductCatalog
	inventory  InventoryChecker
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// NewCartService creates a new cart service. catalog and inventory may be nil.
func NewCartService(
	storage storage.Provider,
	locker *lock.Locker,
	events *broker.CartEventPublisher,
	dispatcher *worker.Dispatcher,
	catalog ProductCatalog,
	inventory InventoryChecker,
	opts Options,
) *CartService {
	return &CartService{
		storage:    storage,
		locker:     locker,
		events:     events,
		dispatcher: dispatcher,
		catalog:    catalog,
		inventory:  inventory,
		opts:       opts,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// GetCart returns the owner's cart. A missing cart is returned empty and is
// not persisted.
func (s *CartService) GetCart(ctx context.Context, ownerID string) (c *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()
	defer s.observe("get", time.Now(), &err)

	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	return s.load(ctx, ownerID)
}

// AddItem adds an item, merging with an existing line of the same SKU.
func (s *CartService) AddItem(ctx context.Context, ownerID string, req AddItemRequest) (c *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()
	defer s.observe("add_item", time.Now(), &err)

	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, cart.ErrInvalidQuantity
	}

	item, err := s.resolveItem(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.checkStock(ctx, item.SKU, item.Quantity); err != nil {
		return nil, err
	}

	var updated *models.Cart
	err = s.withLock(ctx, ownerID, func(ctx context.Context) error {
		current, err := s.load(ctx, ownerID)
		if err != nil {
			return err
		}
		updated, err = cart.AddItem(current, item, s.opts.MaxItems, s.opts.MaxQuantity, s.now())
		if err != nil {
			return err
		}
		return s.persist(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Item added to cart",
		zap.String("owner", ownerID),
		zap.String("sku", item.SKU),
		zap.Int("quantity", item.Quantity),
	)

	line := updated.Items[updated.FindItem(item.SKU)]
	corrID := util.CorrelationID(ctx)
	s.publish(models.TopicItemAdded, func(ctx context.Context) {
		s.events.PublishItemAdded(ctx, updated, line, corrID)
	})
	return updated, nil
}

// UpdateItemQuantity sets the quantity of sku. Zero removes the line.
func (s *CartService) UpdateItemQuantity(ctx context.Context, ownerID, sku string, quantity int) (c *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItemQuantity")
	defer span.End()
	defer s.observe("update_item", time.Now(), &err)

	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}

	var (
		updated *models.Cart
		before  models.CartItem
	)
	err = s.withLock(ctx, ownerID, func(ctx context.Context) error {
		current, err := s.loadExisting(ctx, ownerID)
		if err != nil {
			return err
		}
		if idx := current.FindItem(sku); idx >= 0 {
			before = current.Items[idx]
		}
		updated, err = cart.UpdateQuantity(current, sku, quantity, s.opts.MaxQuantity, s.now())
		if err != nil {
			return err
		}
		return s.persist(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	corrID := util.CorrelationID(ctx)
	if quantity == 0 {
		s.publish(models.TopicItemRemoved, func(ctx context.Context) {
			s.events.PublishItemRemoved(ctx, updated, before, corrID)
		})
		return updated, nil
	}

	line := updated.Items[updated.FindItem(sku)]
	s.publish(models.TopicItemUpdated, func(ctx context.Context) {
		s.events.PublishItemUpdated(ctx, updated, line, before.Quantity, corrID)
	})
	return updated, nil
}

// RemoveItem drops sku from the cart.
func (s *CartService) RemoveItem(ctx context.Context, ownerID, sku string) (c *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()
	defer s.observe("remove_item", time.Now(), &err)

	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}

	var (
		updated *models.Cart
		removed models.CartItem
	)
	err = s.withLock(ctx, ownerID, func(ctx context.Context) error {
		current, err := s.loadExisting(ctx, ownerID)
		if err != nil {
			return err
		}
		if idx := current.FindItem(sku); idx >= 0 {
			removed = current.Items[idx]
		}
		updated, err = cart.RemoveItem(current, sku, s.now())
		if err != nil {
			return err
		}
		return s.persist(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	corrID := util.CorrelationID(ctx)
	s.publish(models.TopicItemRemoved, func(ctx context.Context) {
		s.events.PublishItemRemoved(ctx, updated, removed, corrID)
	})
	return updated, nil
}

// ClearCart deletes the stored cart and returns an empty one. The cleared
// event is published even when there was nothing to clear.
func (s *CartService) ClearCart(ctx context.Context, ownerID string) (c *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.ClearCart")
	defer span.End()
	defer s.observe("clear", time.Now(), &err)

	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}

	var before, cleared *models.Cart
	err = s.withLock(ctx, ownerID, func(ctx context.Context) error {
		current, err := s.load(ctx, ownerID)
		if err != nil {
			return err
		}
		before = current
		cleared = cart.Clear(current, s.now())
		return s.storage.Delete(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cart cleared", zap.String("owner", ownerID), zap.Int("items", len(before.Items)))

	corrID := util.CorrelationID(ctx)
	s.publish(models.TopicCartCleared, func(ctx context.Context) {
		s.events.PublishCartCleared(ctx, before, cleared, corrID)
	})
	return cleared, nil
}

// TransferCart merges the guest cart into the user's cart and deletes the
// guest cart. Both locks are held for the whole merge, user first. A missing
// or empty guest cart leaves everything untouched and returns the user cart.
// Consuming a non-empty guest cart is always announced, even when every guest
// line was dropped by the limits.
func (s *CartService) TransferCart(ctx context.Context, guestID, userID string) (c *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.TransferCart")
	defer span.End()
	defer s.observe("transfer", time.Now(), &err)

	if err := validateOwner(userID); err != nil {
		return nil, err
	}
	if models.IsGuest(userID) || strings.TrimSpace(guestID) == "" {
		return nil, ErrInvalidOwner
	}
	guestOwner := models.GuestOwnerID(guestID)

	var (
		result      *models.Cart
		transferred int
		consumed    bool
	)
	err = s.withLock(ctx, userID, func(ctx context.Context) error {
		return s.withLock(ctx, guestOwner, func(ctx context.Context) error {
			guest, err := s.storage.Get(ctx, guestOwner)
			if err != nil {
				return err
			}
			user, err := s.load(ctx, userID)
			if err != nil {
				return err
			}
			if guest == nil || guest.IsEmpty() {
				result = user
				return nil
			}

			merged, n := cart.MergeGuestIntoUser(guest, user, s.opts.MaxItems, s.opts.MaxQuantity, s.now())
			if err := s.persist(ctx, merged); err != nil {
				return err
			}
			if err := s.storage.Delete(ctx, guestOwner); err != nil {
				s.logger.Error("Merged cart saved but guest cart not deleted",
					zap.String("guest", guestOwner),
					zap.String("user", userID),
					zap.Error(err),
				)
			}
			result, transferred, consumed = merged, n, true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if !consumed {
		return result, nil
	}

	util.CartsTransferredTotal.Inc()
	s.logger.Info("Guest cart transferred",
		zap.String("guest", guestOwner),
		zap.String("user", userID),
		zap.Int("items", transferred),
	)

	corrID := util.CorrelationID(ctx)
	s.publish(models.TopicTransferred, func(ctx context.Context) {
		s.events.PublishCartTransferred(ctx, guestID, result, transferred, corrID)
	})
	return result, nil
}

// withLock runs fn while holding the owner's lock. The lock is released on
// every path, with a fresh deadline so a cancelled request still unlocks.
func (s *CartService) withLock(ctx context.Context, ownerID string, fn func(ctx context.Context) error) error {
	ok, err := s.locker.Acquire(ctx, ownerID, s.opts.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBusy
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.locker.Release(releaseCtx, ownerID); err != nil {
			s.logger.Warn("Failed to release cart lock, it will expire", zap.String("owner", ownerID), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// load returns the stored cart or a fresh unsaved one.
func (s *CartService) load(ctx context.Context, ownerID string) (*models.Cart, error) {
	c, err := s.storage.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if c == nil || c.IsExpired(now) {
		return models.NewCart(ownerID, now, s.ttlFor(ownerID)), nil
	}
	return c, nil
}

func (s *CartService) loadExisting(ctx context.Context, ownerID string) (*models.Cart, error) {
	c, err := s.storage.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.IsExpired(s.now()) {
		return nil, ErrCartNotFound
	}
	return c, nil
}

// persist saves c with a TTL refreshed from now.
func (s *CartService) persist(ctx context.Context, c *models.Cart) error {
	ttl := s.ttlFor(c.UserID)
	c.ExpiresAt = s.now().Add(ttl)
	return s.storage.Save(ctx, c, ttl)
}

func (s *CartService) ttlFor(ownerID string) time.Duration {
	if models.IsGuest(ownerID) {
		return s.opts.GuestTTL
	}
	return s.opts.DefaultTTL
}

func (s *CartService) resolveItem(ctx context.Context, req AddItemRequest) (models.CartItem, error) {
	item := models.CartItem{
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		SKU:           req.SKU,
		Quantity:      req.Quantity,
		ImageURL:      req.ImageURL,
		Category:      req.Category,
		SelectedColor: req.SelectedColor,
		SelectedSize:  req.SelectedSize,
	}
	if req.SKU != "" && req.ProductName != "" && req.Price != nil {
		item.Price = *req.Price
		return item, nil
	}

	if s.catalog == nil {
		return models.CartItem{}, fmt.Errorf("%w: sku, productName and price are required", cart.ErrInvalidItem)
	}
	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return models.CartItem{}, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	if product == nil {
		return models.CartItem{}, ErrProductNotFound
	}
	if !product.IsActive {
		return models.CartItem{}, ErrProductUnavailable
	}

	item.ProductName = product.Name
	item.Price = product.Price
	item.SKU = cart.VariantSKU(product.SKU, req.SelectedColor, req.SelectedSize)
	if item.ImageURL == "" {
		item.ImageURL = product.ImageURL
	}
	if item.Category == "" {
		item.Category = product.Category
	}
	return item, nil
}

// checkStock rejects only a definite "not enough"; a failing check is logged
// and the add goes ahead.
func (s *CartService) checkStock(ctx context.Context, sku string, quantity int) error {
	if s.inventory == nil {
		return nil
	}
	ok, err := s.inventory.CheckAvailability(ctx, sku, quantity)
	if err != nil {
		s.logger.Warn("Inventory check failed, allowing add", zap.String("sku", sku), zap.Error(err))
		return nil
	}
	if !ok {
		return ErrInsufficientStock
	}
	return nil
}

func (s *CartService) publish(topic string, job func(ctx context.Context)) {
	if s.events == nil || s.dispatcher == nil {
		return
	}
	s.dispatcher.Submit(topic, job)
}

func (s *CartService) observe(op string, start time.Time, errp *error) {
	util.CartOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	util.CartOperationsTotal.WithLabelValues(op, outcome(*errp)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, ErrCatalogUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" || ownerID == models.GuestIDPrefix {
		return ErrInvalidOwner
	}
	return nil
}
