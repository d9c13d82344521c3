package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/gateway"
	"booking-service/internal/models"
	"booking-service/internal/quote"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bookings below the gateway's minimum chargeable amount are rejected.
const minAmountPaise = 100

// BookingStore is the persistence surface of the state machine. Conditional
// transitions return (nil, nil) when the status precondition no longer holds.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error)
	GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, orderID, transactionID string) (*models.Booking, error)
	FailPayment(ctx context.Context, orderID string) (*models.Booking, error)
	CancelBooking(ctx context.Context, id int64, cancelledBy string, refundPaise int64, refundID *string) (*models.Booking, error)
	AssignServicePerson(ctx context.Context, id int64, personID string) (*models.Booking, error)
	ConfirmArrival(ctx context.Context, id int64) (*models.Booking, error)
	MarkPendingCompletion(ctx context.Context, id int64) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookingsByUser(ctx context.Context, userAuthID string) ([]models.Booking, error)
	ListBookingsByProvider(ctx context.Context, providerID string) ([]models.Booking, error)
	ListActiveBookingsInRange(ctx context.Context, providerID string, from, to time.Time) ([]models.Booking, error)
}

// PaymentGateway is the payment processor surface the orchestrator consumes.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (*gateway.Order, error)
	CreateRefund(ctx context.Context, transactionID string, amountPaise int64, notes map[string]string) (*gateway.Refund, error)
	KeyID() string
}

// QuoteResolver supplies authoritative prices and provider availability.
type QuoteResolver interface {
	GetQuote(ctx context.Context, providerID, serviceID string) (*quote.Quote, error)
	GetOpenIntervals(ctx context.Context, providerID, date string) ([]quote.MinuteInterval, error)
}

// OtpService issues and verifies checkpoint codes.
type OtpService interface {
	Generate(ctx context.Context, bookingID int64, otpType string) (string, error)
	Verify(ctx context.Context, bookingID int64, otpType, code string) error
}

// NotificationPublisher is the best-effort side channel.
type NotificationPublisher interface {
	Publish(ctx context.Context, event models.NotificationEvent) error
}

// BookingService drives the booking lifecycle state machine. All concurrency
// correctness is delegated to the store's conditional updates; the service
// itself is stateless.
type BookingService struct {
	store    BookingStore
	gateway  PaymentGateway
	quotes   QuoteResolver
	otp      OtpService
	notifier NotificationPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(
	store BookingStore,
	gw PaymentGateway,
	quotes QuoteResolver,
	otpService OtpService,
	notifier NotificationPublisher,
) *BookingService {
	return &BookingService{
		store:    store,
		gateway:  gw,
		quotes:   quotes,
		otp:      otpService,
		notifier: notifier,
		logger:   util.NamedLogger("booking"),
		now:      time.Now,
	}
}

// CreateBookingRequest carries the user's booking intent. Price never comes
// from the client; only the quote resolver's price is used.
type CreateBookingRequest struct {
	ProviderID        string    `json:"provider_id" binding:"required"`
	ProviderServiceID string    `json:"provider_service_id" binding:"required"`
	SlotStart         time.Time `json:"slot_start" binding:"required"`
	SlotEnd           time.Time `json:"slot_end,omitempty"`
	IdempotencyKey    string    `json:"idempotency_key,omitempty"`
}

// CreateBookingResponse pairs the booking with its payment-order summary.
type CreateBookingResponse struct {
	Booking      *models.Booking     `json:"booking"`
	PaymentOrder models.PaymentOrder `json:"payment_order"`
}

// Create resolves an authoritative quote, opens a payment order and persists
// the booking in PENDING_PAYMENT. Replaying the same idempotency key returns
// the original booking/order pair, including under a unique-constraint race.
func (s *BookingService) Create(ctx context.Context, userAuthID string, req *CreateBookingRequest) (*CreateBookingResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Create")
	defer span.End()

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			util.BookingsCreateReplayedTotal.Inc()
			s.logger.Info("Duplicate create request replayed",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("booking_id", existing.ID))
			return s.replayResponse(existing), nil
		}
	}

	q, err := s.quotes.GetQuote(ctx, req.ProviderID, req.ProviderServiceID)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindBadRequest, Msg: "unable to resolve service quote", Err: err}
	}
	if q.PriceMinorUnits < minAmountPaise {
		return nil, apperr.BadRequest("quoted price %d is below the minimum chargeable amount", q.PriceMinorUnits)
	}

	slotEnd := req.SlotEnd
	if q.DurationMinutes > 0 {
		slotEnd = req.SlotStart.Add(time.Duration(q.DurationMinutes) * time.Minute)
	}
	if !slotEnd.After(req.SlotStart) {
		return nil, apperr.BadRequest("slot end must be after slot start")
	}

	receipt := "bkg-" + uuid.New().String()
	order, err := s.gateway.CreateOrder(ctx, q.PriceMinorUnits, "INR", receipt, map[string]string{
		"user_auth_id":        userAuthID,
		"provider_id":         req.ProviderID,
		"provider_service_id": req.ProviderServiceID,
	})
	if err != nil {
		return nil, apperr.Unprocessable(err, "failed to open payment order")
	}

	booking := &models.Booking{
		UserAuthID:        userAuthID,
		ProviderID:        req.ProviderID,
		ProviderServiceID: req.ProviderServiceID,
		SlotStart:         req.SlotStart,
		SlotEnd:           slotEnd,
		AmountPaise:       q.PriceMinorUnits,
		Currency:          order.Currency,
		PaymentOrderID:    order.ID,
		Status:            models.BookingStatusPendingPayment,
	}
	if q.ProviderAuthID != "" {
		booking.ProviderAuthID = &q.ProviderAuthID
	}
	if req.IdempotencyKey != "" {
		booking.IdempotencyKey = &req.IdempotencyKey
	}

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		// Two concurrent creates with the same key: the loser re-reads and
		// returns the winner's row.
		if cv, ok := apperr.AsConstraint(err); ok && req.IdempotencyKey != "" {
			winner, readErr := s.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey)
			if readErr != nil {
				return nil, fmt.Errorf("failed to re-read after constraint race: %w", readErr)
			}
			if winner != nil {
				util.BookingsCreateReplayedTotal.Inc()
				s.logger.Info("Create lost idempotency race, returning winner",
					zap.String("constraint", cv.Constraint),
					zap.Int64("booking_id", winner.ID))
				return s.replayResponse(winner), nil
			}
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.String("order_id", order.ID),
		zap.Int64("amount_paise", booking.AmountPaise))

	return &CreateBookingResponse{
		Booking: booking,
		PaymentOrder: models.PaymentOrder{
			OrderID:     order.ID,
			AmountPaise: booking.AmountPaise,
			Currency:    booking.Currency,
			GatewayKey:  s.gateway.KeyID(),
		},
	}, nil
}

func (s *BookingService) replayResponse(b *models.Booking) *CreateBookingResponse {
	return &CreateBookingResponse{
		Booking: b,
		PaymentOrder: models.PaymentOrder{
			OrderID:     b.PaymentOrderID,
			AmountPaise: b.AmountPaise,
			Currency:    b.Currency,
			GatewayKey:  s.gateway.KeyID(),
		},
	}
}

// HandlePaymentCaptured advances PENDING_PAYMENT to CONFIRMED. Duplicate or
// late deliveries observe a zero-row update and return silently.
func (s *BookingService) HandlePaymentCaptured(ctx context.Context, orderID, transactionID string) error {
	ctx, span := util.StartSpan(ctx, "BookingService.HandlePaymentCaptured")
	defer span.End()

	booking, err := s.store.ConfirmPayment(ctx, orderID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to confirm payment: %w", err)
	}
	if booking == nil {
		s.logger.Info("Payment capture ignored: booking missing or already transitioned",
			zap.String("order_id", orderID))
		return nil
	}

	util.BookingsConfirmedTotal.Inc()
	s.logger.Info("Booking confirmed",
		zap.Int64("booking_id", booking.ID),
		zap.String("order_id", orderID))

	s.notify(ctx, models.NotificationEvent{
		RecipientAuthID: booking.UserAuthID,
		Type:            models.NotifyBookingConfirmed,
		Title:           "Booking confirmed",
		Body:            "Your payment was received and the booking is confirmed.",
		Metadata:        map[string]string{"booking_id": strconv.FormatInt(booking.ID, 10)},
		Channel:         models.ChannelInApp,
	})
	if booking.ProviderAuthID != nil {
		s.notify(ctx, models.NotificationEvent{
			RecipientAuthID: *booking.ProviderAuthID,
			Type:            models.NotifyBookingConfirmed,
			Title:           "New confirmed booking",
			Body:            "A booking has been paid and confirmed.",
			Metadata:        map[string]string{"booking_id": strconv.FormatInt(booking.ID, 10)},
			Channel:         models.ChannelInApp,
		})
	}
	return nil
}

// HandlePaymentFailed advances PENDING_PAYMENT to PAYMENT_FAILED; any other
// state is a no-op.
func (s *BookingService) HandlePaymentFailed(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "BookingService.HandlePaymentFailed")
	defer span.End()

	booking, err := s.store.FailPayment(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	if booking == nil {
		s.logger.Info("Payment failure ignored: booking missing or already transitioned",
			zap.String("order_id", orderID))
		return nil
	}

	util.BookingsPaymentFailedTotal.Inc()
	s.logger.Warn("Booking payment failed",
		zap.Int64("booking_id", booking.ID),
		zap.String("order_id", orderID))
	return nil
}

// CancelByUser cancels the caller's own booking, applying the time-to-slot
// refund policy. A refund-gateway failure aborts the cancellation.
func (s *BookingService) CancelByUser(ctx context.Context, bookingID int64, userAuthID string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CancelByUser")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, apperr.NotFound("booking %d not found", bookingID)
	}
	if booking.UserAuthID != userAuthID {
		return nil, apperr.Forbidden("booking %d does not belong to caller", bookingID)
	}

	refund := RefundForCancellation(booking.AmountPaise, booking.SlotStart.Sub(s.now()))
	return s.cancel(ctx, booking, models.CancelledByUser, refund)
}

// CancelByProvider cancels a booking on the provider side; the user is always
// refunded in full.
func (s *BookingService) CancelByProvider(ctx context.Context, bookingID int64, providerID string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CancelByProvider")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, apperr.NotFound("booking %d not found", bookingID)
	}
	if booking.ProviderID != providerID {
		return nil, apperr.Forbidden("booking %d does not belong to provider", bookingID)
	}

	return s.cancel(ctx, booking, models.CancelledByProvider, booking.AmountPaise)
}

func (s *BookingService) cancel(ctx context.Context, booking *models.Booking, cancelledBy string, refundPaise int64) (*models.Booking, error) {
	if booking.Status != models.BookingStatusPendingPayment && booking.Status != models.BookingStatusConfirmed {
		return nil, apperr.BadRequest("booking in status %s cannot be cancelled", booking.Status)
	}

	// Refund first: if the gateway rejects it the booking stays unchanged.
	var refundID *string
	issuedPaise := int64(0)
	if refundPaise > 0 && booking.PaymentTransactionID != nil {
		refund, err := s.gateway.CreateRefund(ctx, *booking.PaymentTransactionID, refundPaise, map[string]string{
			"booking_id":   strconv.FormatInt(booking.ID, 10),
			"cancelled_by": cancelledBy,
		})
		if err != nil {
			return nil, apperr.Unprocessable(err, "refund failed, booking not cancelled")
		}
		refundID = &refund.ID
		issuedPaise = refundPaise
		util.RefundsIssuedTotal.Inc()
	}

	cancelled, err := s.store.CancelBooking(ctx, booking.ID, cancelledBy, issuedPaise, refundID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if cancelled == nil {
		return nil, apperr.Conflict("booking %d was already cancelled or transitioned", booking.ID)
	}

	util.BookingsCancelledTotal.WithLabelValues(cancelledBy).Inc()
	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", cancelled.ID),
		zap.String("cancelled_by", cancelledBy),
		zap.Int64("refund_paise", issuedPaise))

	meta := map[string]string{"booking_id": strconv.FormatInt(cancelled.ID, 10)}
	s.notify(ctx, models.NotificationEvent{
		RecipientAuthID: cancelled.UserAuthID,
		Type:            models.NotifyBookingCancelled,
		Title:           "Booking cancelled",
		Body:            "Your booking has been cancelled.",
		Metadata:        meta,
		Channel:         models.ChannelInApp,
	})
	if issuedPaise > 0 {
		s.notify(ctx, models.NotificationEvent{
			RecipientAuthID: cancelled.UserAuthID,
			Type:            models.NotifyRefundInitiated,
			Title:           "Refund initiated",
			Body:            fmt.Sprintf("A refund of %d paise has been initiated.", issuedPaise),
			Metadata:        meta,
			Channel:         models.ChannelInApp,
		})
	}
	if cancelled.ProviderAuthID != nil {
		s.notify(ctx, models.NotificationEvent{
			RecipientAuthID: *cancelled.ProviderAuthID,
			Type:            models.NotifyBookingCancelled,
			Title:           "Booking cancelled",
			Body:            "A booking has been cancelled.",
			Metadata:        meta,
			Channel:         models.ChannelInApp,
		})
	}
	return cancelled, nil
}

// RefundForCancellation applies the time-to-slot refund policy with integer
// floor arithmetic: at least 24h out refunds everything, at least 12h half,
// anything closer nothing.
func RefundForCancellation(amountPaise int64, timeToSlot time.Duration) int64 {
	switch {
	case timeToSlot >= 24*time.Hour:
		return amountPaise
	case timeToSlot >= 12*time.Hour:
		return amountPaise * 50 / 100
	default:
		return 0
	}
}

// AssignServicePerson records who will perform the service and issues the
// arrival OTP to the user. The code is never returned to the provider-facing
// caller and never logged.
func (s *BookingService) AssignServicePerson(ctx context.Context, bookingID int64, providerID, personID string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.AssignServicePerson")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, apperr.NotFound("booking %d not found", bookingID)
	}
	if booking.ProviderID != providerID {
		return nil, apperr.Forbidden("booking %d does not belong to provider", bookingID)
	}

	updated, err := s.store.AssignServicePerson(ctx, bookingID, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign service person: %w", err)
	}
	if updated == nil {
		return nil, apperr.BadRequest("service person can only be assigned to a confirmed booking")
	}

	code, err := s.otp.Generate(ctx, bookingID, models.OtpTypeArrival)
	if err != nil {
		return nil, fmt.Errorf("failed to generate arrival otp: %w", err)
	}

	meta := map[string]string{"booking_id": strconv.FormatInt(bookingID, 10)}
	s.notify(ctx, models.NotificationEvent{
		RecipientAuthID: updated.UserAuthID,
		Type:            models.NotifyServicePersonAssigned,
		Title:           "Service person assigned",
		Body:            "A service person has been assigned to your booking.",
		Metadata:        meta,
		Channel:         models.ChannelInApp,
	})
	s.notify(ctx, models.NotificationEvent{
		RecipientAuthID: updated.UserAuthID,
		Type:            models.NotifyArrivalOtp,
		Title:           "Arrival verification code",
		Body:            "Share this code with the service person on arrival.",
		Metadata:        map[string]string{"booking_id": meta["booking_id"], "otp": code},
		Channel:         models.ChannelInApp,
	})
	return updated, nil
}

// ConfirmArrival consumes the arrival OTP presented by the provider and
// advances CONFIRMED to ARRIVAL_CONFIRMED.
func (s *BookingService) ConfirmArrival(ctx context.Context, bookingID int64, providerID, code string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.ConfirmArrival")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, apperr.NotFound("booking %d not found", bookingID)
	}
	if booking.ProviderID != providerID {
		return nil, apperr.Forbidden("booking %d does not belong to provider", bookingID)
	}

	if err := s.otp.Verify(ctx, bookingID, models.OtpTypeArrival, code); err != nil {
		return nil, err
	}

	updated, err := s.store.ConfirmArrival(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm arrival: %w", err)
	}
	if updated == nil {
		return nil, apperr.Conflict("booking %d is no longer awaiting arrival", bookingID)
	}

	s.logger.Info("Arrival confirmed", zap.Int64("booking_id", bookingID))
	return updated, nil
}

// MarkComplete moves an arrival-confirmed booking into completion
// verification and issues the completion OTP to the user.
func (s *BookingService) MarkComplete(ctx context.Context, bookingID int64, providerID string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.MarkComplete")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, apperr.NotFound("booking %d not found", bookingID)
	}
	if booking.ProviderID != providerID {
		return nil, apperr.Forbidden("booking %d does not belong to provider", bookingID)
	}

	updated, err := s.store.MarkPendingCompletion(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark completion pending: %w", err)
	}
	if updated == nil {
		return nil, apperr.BadRequest("only an arrival-confirmed booking can be marked complete")
	}

	code, err := s.otp.Generate(ctx, bookingID, models.OtpTypeCompletion)
	if err != nil {
		return nil, fmt.Errorf("failed to generate completion otp: %w", err)
	}

	s.notify(ctx, models.NotificationEvent{
		RecipientAuthID: updated.UserAuthID,
		Type:            models.NotifyCompletionOtp,
		Title:           "Completion verification code",
		Body:            "Share this code to confirm the work is complete.",
		Metadata: map[string]string{
			"booking_id": strconv.FormatInt(bookingID, 10),
			"otp":        code,
		},
		Channel: models.ChannelInApp,
	})
	return updated, nil
}

// VerifyCompletion consumes the completion OTP presented by the user and
// finishes the booking.
func (s *BookingService) VerifyCompletion(ctx context.Context, bookingID int64, userAuthID, code string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.VerifyCompletion")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, apperr.NotFound("booking %d not found", bookingID)
	}
	if booking.UserAuthID != userAuthID {
		return nil, apperr.Forbidden("booking %d does not belong to caller", bookingID)
	}

	if err := s.otp.Verify(ctx, bookingID, models.OtpTypeCompletion, code); err != nil {
		return nil, err
	}

	updated, err := s.store.CompleteBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete booking: %w", err)
	}
	if updated == nil {
		return nil, apperr.Conflict("booking %d is no longer awaiting completion verification", bookingID)
	}

	util.BookingsCompletedTotal.Inc()
	s.logger.Info("Booking completed", zap.Int64("booking_id", bookingID))

	meta := map[string]string{"booking_id": strconv.FormatInt(bookingID, 10)}
	s.notify(ctx, models.NotificationEvent{
		RecipientAuthID: updated.UserAuthID,
		Type:            models.NotifyBookingCompleted,
		Title:           "Booking completed",
		Body:            "Thanks for confirming. You can now leave a review.",
		Metadata:        meta,
		Channel:         models.ChannelInApp,
	})
	if updated.ProviderAuthID != nil {
		s.notify(ctx, models.NotificationEvent{
			RecipientAuthID: *updated.ProviderAuthID,
			Type:            models.NotifyBookingCompleted,
			Title:           "Booking completed",
			Body:            "The customer confirmed completion.",
			Metadata:        meta,
			Channel:         models.ChannelInApp,
		})
	}
	return updated, nil
}

// GetBooking returns a booking the caller is a party to.
func (s *BookingService) GetBooking(ctx context.Context, bookingID int64, callerAuthID, callerProviderID string) (*models.Booking, error) {
	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, apperr.NotFound("booking %d not found", bookingID)
	}
	if booking.UserAuthID != callerAuthID && booking.ProviderID != callerProviderID {
		return nil, apperr.Forbidden("caller is not a party to booking %d", bookingID)
	}
	return booking, nil
}

// ListByUser returns the caller's bookings, newest first.
func (s *BookingService) ListByUser(ctx context.Context, userAuthID string) ([]models.Booking, error) {
	return s.store.ListBookingsByUser(ctx, userAuthID)
}

// ListByProvider returns a provider's bookings, newest first.
func (s *BookingService) ListByProvider(ctx context.Context, providerID string) ([]models.Booking, error) {
	return s.store.ListBookingsByProvider(ctx, providerID)
}

func (s *BookingService) notify(ctx context.Context, event models.NotificationEvent) {
	if err := s.notifier.Publish(ctx, event); err != nil {
		util.NotificationPublishFailedTotal.Inc()
		s.logger.Error("Failed to publish notification",
			zap.String("type", event.Type),
			zap.String("recipient", event.RecipientAuthID),
			zap.Error(err))
	}
}
