package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cart-service/internal/cart"
	"cart-service/internal/models"
	"cart-service/internal/service"
	"cart-service/internal/storage"
	"cart-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserIDHeader carries the authenticated user id, set by the gateway.
const UserIDHeader = "X-User-ID"

const ownerKey = "cartOwner"

// HealthChecker reports per-component health for readiness.
type HealthChecker interface {
	Health(ctx context.Context) map[string]bool
}

// Handler contains HTTP handlers
type Handler struct {
	cartService *service.CartService
	health      HealthChecker
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(cartService *service.CartService, health HealthChecker) *Handler {
	return &Handler{
		cartService: cartService,
		health:      health,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(correlationMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	user := v1.Group("/cart", requireUser())
	{
		user.GET("", h.getCart)
		user.DELETE("", h.clearCart)
		user.POST("/items", h.addItem)
		user.PUT("/items/:sku", h.updateItem)
		user.DELETE("/items/:sku", h.removeItem)
		user.POST("/transfer", h.transferCart)
	}

	guest := v1.Group("/guest/cart/:guestId", guestOwner())
	{
		guest.GET("", h.getCart)
		guest.DELETE("", h.clearCart)
		guest.POST("/items", h.addItem)
		guest.PUT("/items/:sku", h.updateItem)
		guest.DELETE("/items/:sku", h.removeItem)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when storage answers. Messaging is
// reported but does not affect readiness.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	components := h.health.Health(ctx)
	status, code := "ready", http.StatusOK
	if !components["storage"] {
		status, code = "not ready", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
		"time":       time.Now().Unix(),
	})
}

func (h *Handler) getCart(c *gin.Context) {
	result, err := h.cartService.GetCart(c.Request.Context(), c.GetString(ownerKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) addItem(c *gin.Context) {
	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}

	result, err := h.cartService.AddItem(c.Request.Context(), c.GetString(ownerKey), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) updateItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}

	result, err := h.cartService.UpdateItemQuantity(c.Request.Context(), c.GetString(ownerKey), c.Param("sku"), *req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) removeItem(c *gin.Context) {
	result, err := h.cartService.RemoveItem(c.Request.Context(), c.GetString(ownerKey), c.Param("sku"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) clearCart(c *gin.Context) {
	result, err := h.cartService.ClearCart(c.Request.Context(), c.GetString(ownerKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type transferRequest struct {
	GuestID string `json:"guestId" binding:"required"`
}

func (h *Handler) transferCart(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}

	result, err := h.cartService.TransferCart(c.Request.Context(), req.GuestID, c.GetString(ownerKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Cart request failed",
			zap.String("path", c.FullPath()),
			zap.String("correlation_id", util.CorrelationID(c.Request.Context())),
			zap.Error(err),
		)
	}
	if status == http.StatusConflict {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, gin.H{
		"error":   code,
		"details": err.Error(),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		return http.StatusBadRequest, "INVALID_QUANTITY"
	case errors.Is(err, cart.ErrLimitExceeded):
		return http.StatusBadRequest, "LIMIT_EXCEEDED"
	case errors.Is(err, cart.ErrInvalidItem):
		return http.StatusBadRequest, "INVALID_ITEM"
	case errors.Is(err, service.ErrInvalidOwner):
		return http.StatusBadRequest, "INVALID_OWNER"
	case errors.Is(err, service.ErrProductUnavailable):
		return http.StatusBadRequest, "PRODUCT_UNAVAILABLE"
	case errors.Is(err, service.ErrInsufficientStock):
		return http.StatusBadRequest, "INSUFFICIENT_STOCK"
	case errors.Is(err, cart.ErrItemNotFound):
		return http.StatusNotFound, "ITEM_NOT_FOUND"
	case errors.Is(err, service.ErrCartNotFound):
		return http.StatusNotFound, "CART_NOT_FOUND"
	case errors.Is(err, service.ErrProductNotFound):
		return http.StatusNotFound, "PRODUCT_NOT_FOUND"
	case errors.Is(err, service.ErrBusy):
		return http.StatusConflict, "BUSY"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	case errors.Is(err, service.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// requireUser takes the cart owner from the user id header.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" || models.IsGuest(userID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}
		c.Set(ownerKey, userID)
		c.Next()
	}
}

func guestOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ownerKey, models.GuestOwnerID(c.Param("guestId")))
		c.Next()
	}
}

// correlationMiddleware propagates or creates the request correlation id.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(util.CorrelationHeader)
		if id == "" {
			id = util.NewCorrelationID()
		}
		c.Request = c.Request.WithContext(util.WithCorrelationID(c.Request.Context(), id))
		c.Header(util.CorrelationHeader, id)
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
