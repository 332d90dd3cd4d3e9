package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"payment-reconciler/internal/provider"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/util"
	"payment-reconciler/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SignatureHeader is the provider's webhook signature header.
const SignatureHeader = "Stripe-Signature"

// Handler contains HTTP handlers
type Handler struct {
	verifier   *provider.Verifier
	dispatcher *webhook.Dispatcher
	store      *store.Store
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(verifier *provider.Verifier, dispatcher *webhook.Dispatcher, st *store.Store) *Handler {
	return &Handler{
		verifier:   verifier,
		dispatcher: dispatcher,
		store:      st,
		logger:     util.GetLogger(),
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

	router.POST("/webhooks/stripe", h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/orders/:id", h.getOrder)
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

// handleWebhook verifies, parses and dispatches one provider event. Once
// verification and parsing pass, the response is always 200: internal
// failures escalate through inbox_items, not through provider retries.
func (h *Handler) handleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "Invalid payload"})
		return
	}

	_, err = h.verifier.Verify(body, c.GetHeader(SignatureHeader))
	if errors.Is(err, provider.ErrNoWebhookSecret) {
		h.logger.Error("webhook secret is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":      false,
			"message": "STRIPE_WEBHOOK_SECRET is not configured",
		})
		return
	}
	if err != nil {
		util.WebhookSignatureFailures.Inc()
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "Invalid signature"})
		return
	}

	event, err := provider.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "Invalid payload"})
		return
	}

	result, err := h.dispatcher.Process(c.Request.Context(), event, body)
	if err != nil {
		// Reserving the idempotency record failed before any handler ran;
		// a 5xx makes the provider redeliver.
		h.logger.Error("failed to reserve webhook event",
			zap.String("event_id", event.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": "Internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// getOrder returns an order with its status history.
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.store.GetOrderByID(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	history, err := h.store.GetOrderStatusHistory(c.Request.Context(), orderID)
	if err != nil {
		h.logger.Warn("failed to load status history",
			zap.Int64("order_id", orderID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"order":   order,
		"history": history,
	})
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
