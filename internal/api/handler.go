package api

import (
	"errors"
	"net/http"
	"time"

	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout  *service.CheckoutService
	catalog   *service.CatalogService
	booking   *service.BookingService
	jwtSecret string
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *service.CheckoutService, catalog *service.CatalogService, booking *service.BookingService, jwtSecret string) *Handler {
	return &Handler{
		checkout:  checkout,
		catalog:   catalog,
		booking:   booking,
		jwtSecret: jwtSecret,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		auth := v1.Group("", AuthRequired(h.jwtSecret))
		{
			auth.POST("/orders", h.createOrder)
			auth.GET("/orders/mine", h.myOrders)
			auth.GET("/orders/:id", h.getOrder)
			auth.POST("/payments/create", h.createPaymentSession)
			auth.POST("/payments/capture", h.capturePayment)
			auth.POST("/purchases", h.bookPurchase)
			auth.GET("/purchases/mine", h.myPurchases)
		}

		admin := v1.Group("", AuthRequired(h.jwtSecret), AdminRequired())
		{
			admin.GET("/orders", h.listAllOrders)
			admin.GET("/purchases", h.listAllPurchases)
			admin.POST("/products", h.createProduct)
			admin.PUT("/products/:id", h.updateProduct)
			admin.DELETE("/products/:id", h.deleteProduct)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles checkout submission (COD or gateway-backed)
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.checkout.CreateOrder(c.Request.Context(), identityFrom(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// createPaymentSession opens a gateway session for an existing order
func (h *Handler) createPaymentSession(c *gin.Context) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.checkout.CreateSession(c.Request.Context(), identityFrom(c), req.OrderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// capturePayment confirms payment for a gateway session. The session id may
// arrive from the browser return or from the processor's notification; both
// hit the same idempotent path.
func (h *Handler) capturePayment(c *gin.Context) {
	var req struct {
		GatewaySessionID string `json:"gateway_session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.checkout.Capture(c.Request.Context(), req.GatewaySessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// myOrders lists the caller's orders
func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.checkout.ListUserOrders(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder returns one order with its item snapshot
func (h *Handler) getOrder(c *gin.Context) {
	order, items, err := h.checkout.GetOrder(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

// listAllOrders lists every order (admin)
func (h *Handler) listAllOrders(c *gin.Context) {
	orders, err := h.checkout.ListAllOrders(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// bookPurchase books a scheduled purchase against a delivery slot
func (h *Handler) bookPurchase(c *gin.Context) {
	var req service.BookPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	purchase, err := h.booking.BookPurchase(c.Request.Context(), identityFrom(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, purchase)
}

// myPurchases lists the caller's bookings
func (h *Handler) myPurchases(c *gin.Context) {
	purchases, err := h.booking.ListUserPurchases(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

// listAllPurchases lists every booking (admin)
func (h *Handler) listAllPurchases(c *gin.Context) {
	purchases, err := h.booking.ListAllPurchases(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

// listProducts lists the catalog
func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// getProduct returns one catalog product
func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// createProduct adds a catalog product (admin)
func (h *Handler) createProduct(c *gin.Context) {
	var input service.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// updateProduct replaces a catalog product (admin)
func (h *Handler) updateProduct(c *gin.Context) {
	var input service.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), c.Param("id"), &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// deleteProduct removes a catalog product (admin)
func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// respondError maps service error kinds onto HTTP statuses. Gateway failures
// carry enough detail to distinguish "retry" from "payment failed" without
// exposing processor internals.
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		validationErr  *service.ValidationError
		unavailableErr *service.GatewayUnavailableError
		captureErr     *service.CaptureFailedError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason})

	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.As(err, &unavailableErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "Payment gateway unavailable, please retry",
			"order_id": unavailableErr.OrderID,
			"retry":    true,
		})

	case errors.As(err, &captureErr):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":    "Payment capture failed",
			"order_id": captureErr.OrderID,
			"code":     captureErr.Code,
			"reason":   captureErr.Reason,
			"retry":    captureErr.Retryable,
		})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
