package models

import "time"

// Notification channels
const (
	ChannelInApp = "IN_APP"
	ChannelEmail = "EMAIL"
)

// Notification types
const (
	NotifyBookingConfirmed      = "BOOKING_CONFIRMED"
	NotifyBookingCancelled      = "BOOKING_CANCELLED"
	NotifyRefundInitiated       = "REFUND_INITIATED"
	NotifyServicePersonAssigned = "SERVICE_PERSON_ASSIGNED"
	NotifyArrivalOtp            = "ARRIVAL_OTP"
	NotifyCompletionOtp         = "COMPLETION_OTP"
	NotifyBookingCompleted      = "BOOKING_COMPLETED"
)

// Payment event types carried over the broker
const (
	EventTypePaymentCaptured = "PAYMENT_CAPTURED"
	EventTypePaymentFailed   = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all broker events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationEvent is a best-effort, user-facing side effect. Metadata must
// never carry OTP codes for anyone but the recipient they belong to.
type NotificationEvent struct {
	BaseEvent
	RecipientAuthID string            `json:"recipient_auth_id"`
	Type            string            `json:"type"`
	Title           string            `json:"title"`
	Body            string            `json:"body"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Channel         string            `json:"channel"`
}

// PaymentCapturedEvent mirrors a gateway capture onto the broker.
type PaymentCapturedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	AmountPaise   int64  `json:"amount_paise"`
}

// PaymentFailedEvent mirrors a gateway failure onto the broker.
type PaymentFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
