package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/gateway"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Caller identity is injected by the API gateway after JWT validation.
const (
	headerUserAuthID = "X-User-Auth-Id"
	headerProviderID = "X-Provider-Id"
	headerEventID    = "X-Razorpay-Event-Id"
	headerSignature  = "X-Razorpay-Signature"
)

// WebhookLedger deduplicates inbound webhook deliveries by event id.
type WebhookLedger interface {
	ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error)
}

// Handler contains HTTP handlers
type Handler struct {
	bookings      *service.BookingService
	reviews       *service.ReviewService
	ledger        WebhookLedger
	webhookSecret string
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(bookings *service.BookingService, reviews *service.ReviewService, ledger WebhookLedger, webhookSecret string) *Handler {
	return &Handler{
		bookings:      bookings,
		reviews:       reviews,
		ledger:        ledger,
		webhookSecret: webhookSecret,
		logger:        util.NamedLogger("api"),
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

	router.POST("/webhooks/payment", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/bookings", h.createBooking)
		v1.GET("/bookings", h.listUserBookings)
		v1.GET("/bookings/:id", h.getBooking)
		v1.POST("/bookings/:id/cancel", h.cancelByUser)
		v1.POST("/bookings/:id/verify-completion", h.verifyCompletion)
		v1.POST("/bookings/:id/reviews", h.createReview)

		v1.GET("/provider/bookings", h.listProviderBookings)
		v1.POST("/provider/bookings/:id/cancel", h.cancelByProvider)
		v1.POST("/provider/bookings/:id/assign", h.assignServicePerson)
		v1.POST("/provider/bookings/:id/confirm-arrival", h.confirmArrival)
		v1.POST("/provider/bookings/:id/complete", h.markComplete)

		v1.GET("/providers/:providerId/slots", h.availableSlots)
		v1.GET("/providers/:providerId/reviews", h.listProviderReviews)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

func (h *Handler) createBooking(c *gin.Context) {
	userAuthID := c.GetHeader(headerUserAuthID)
	if userAuthID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.bookings.Create(c.Request.Context(), userAuthID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) getBooking(c *gin.Context) {
	id, ok := h.bookingID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), id,
		c.GetHeader(headerUserAuthID), c.GetHeader(headerProviderID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *Handler) listUserBookings(c *gin.Context) {
	userAuthID := c.GetHeader(headerUserAuthID)
	if userAuthID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	bookings, err := h.bookings.ListByUser(c.Request.Context(), userAuthID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *Handler) listProviderBookings(c *gin.Context) {
	providerID := c.GetHeader(headerProviderID)
	if providerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	bookings, err := h.bookings.ListByProvider(c.Request.Context(), providerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *Handler) cancelByUser(c *gin.Context) {
	id, ok := h.bookingID(c)
	if !ok {
		return
	}
	userAuthID := c.GetHeader(headerUserAuthID)
	if userAuthID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	booking, err := h.bookings.CancelByUser(c.Request.Context(), id, userAuthID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *Handler) cancelByProvider(c *gin.Context) {
	id, ok := h.bookingID(c)
	if !ok {
		return
	}
	providerID := c.GetHeader(headerProviderID)
	if providerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	booking, err := h.bookings.CancelByProvider(c.Request.Context(), id, providerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *Handler) assignServicePerson(c *gin.Context) {
	id, ok := h.bookingID(c)
	if !ok {
		return
	}
	providerID := c.GetHeader(headerProviderID)
	if providerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	var req struct {
		ServicePersonID string `json:"service_person_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	booking, err := h.bookings.AssignServicePerson(c.Request.Context(), id, providerID, req.ServicePersonID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *Handler) confirmArrival(c *gin.Context) {
	id, ok := h.bookingID(c)
	if !ok {
		return
	}
	providerID := c.GetHeader(headerProviderID)
	if providerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	var req struct {
		Otp string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	booking, err := h.bookings.ConfirmArrival(c.Request.Context(), id, providerID, req.Otp)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *Handler) markComplete(c *gin.Context) {
	id, ok := h.bookingID(c)
	if !ok {
		return
	}
	providerID := c.GetHeader(headerProviderID)
	if providerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	booking, err := h.bookings.MarkComplete(c.Request.Context(), id, providerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *Handler) verifyCompletion(c *gin.Context) {
	id, ok := h.bookingID(c)
	if !ok {
		return
	}
	userAuthID := c.GetHeader(headerUserAuthID)
	if userAuthID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	var req struct {
		Otp string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	booking, err := h.bookings.VerifyCompletion(c.Request.Context(), id, userAuthID, req.Otp)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *Handler) availableSlots(c *gin.Context) {
	providerID := c.Param("providerId")
	date := c.Query("date")
	duration, err := strconv.Atoi(c.DefaultQuery("duration", "60"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid duration"})
		return
	}

	slots, err := h.bookings.GetAvailableSlots(c.Request.Context(), providerID, date, duration)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (h *Handler) createReview(c *gin.Context) {
	id, ok := h.bookingID(c)
	if !ok {
		return
	}
	userAuthID := c.GetHeader(headerUserAuthID)
	if userAuthID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	var req service.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	review, err := h.reviews.Create(c.Request.Context(), id, userAuthID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": review})
}

func (h *Handler) listProviderReviews(c *gin.Context) {
	reviews, err := h.reviews.ListByProvider(c.Request.Context(), c.Param("providerId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

// webhookEnvelope is the gateway's webhook shape; only the fields the state
// machine needs are decoded.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// paymentWebhook verifies the HMAC signature over the raw body bytes before
// any parsing, claims the event id in the ledger, and only then dispatches.
// A 2xx stops upstream retries, so anything claimed (or already claimed)
// must answer 200; only signature/parse failures and processing errors may
// return a retryable status.
func (h *Handler) paymentWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return
	}

	signature := c.GetHeader(headerSignature)
	if !gateway.VerifyWebhookSignature(rawBody, signature, h.webhookSecret) {
		util.WebhookEventsTotal.WithLabelValues("bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		util.WebhookEventsTotal.WithLabelValues("parse_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	eventID := c.GetHeader(headerEventID)
	if eventID == "" {
		util.WebhookEventsTotal.WithLabelValues("missing_event_id").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing event id"})
		return
	}

	claimed, err := h.ledger.ClaimWebhookEvent(c.Request.Context(), eventID, envelope.Event)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("ledger_error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	if !claimed {
		util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		h.logger.Info("Duplicate webhook delivery skipped", zap.String("event_id", eventID))
		c.JSON(http.StatusOK, gin.H{"status": "already processed"})
		return
	}

	entity := envelope.Payload.Payment.Entity
	switch envelope.Event {
	case "payment.captured":
		err = h.bookings.HandlePaymentCaptured(c.Request.Context(), entity.OrderID, entity.ID)
	case "payment.failed":
		err = h.bookings.HandlePaymentFailed(c.Request.Context(), entity.OrderID)
	default:
		h.logger.Info("Ignoring webhook event type", zap.String("event", envelope.Event))
	}
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("process_error").Inc()
		h.logger.Error("Webhook processing failed",
			zap.String("event_id", eventID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	util.WebhookEventsTotal.WithLabelValues("processed").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) bookingID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindBadRequest:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindUnprocessable:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
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
