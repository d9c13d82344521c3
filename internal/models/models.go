package models

import "time"

// Booking statuses
const (
	BookingStatusPendingPayment         = "PENDING_PAYMENT"
	BookingStatusConfirmed              = "CONFIRMED"
	BookingStatusArrivalConfirmed       = "ARRIVAL_CONFIRMED"
	BookingStatusPendingCompletionCheck = "PENDING_COMPLETION_VERIFICATION"
	BookingStatusCompleted              = "COMPLETED"
	BookingStatusPaymentFailed          = "PAYMENT_FAILED"
	BookingStatusCancelled              = "CANCELLED"
)

// Cancellation actors
const (
	CancelledByUser     = "USER"
	CancelledByProvider = "PROVIDER"
	CancelledBySystem   = "SYSTEM"
)

// OTP types
const (
	OtpTypeArrival    = "ARRIVAL"
	OtpTypeCompletion = "COMPLETION"
)

// Booking is the central entity; it is never deleted and only mutated
// through status-guarded conditional updates.
type Booking struct {
	ID                      int64      `db:"id" json:"id"`
	UserAuthID              string     `db:"user_auth_id" json:"user_auth_id"`
	ProviderID              string     `db:"provider_id" json:"provider_id"`
	ProviderServiceID       string     `db:"provider_service_id" json:"provider_service_id"`
	ProviderAuthID          *string    `db:"provider_auth_id" json:"provider_auth_id,omitempty"`
	AssignedServicePersonID *string    `db:"assigned_service_person_id" json:"assigned_service_person_id,omitempty"`
	SlotStart               time.Time  `db:"slot_start" json:"slot_start"`
	SlotEnd                 time.Time  `db:"slot_end" json:"slot_end"`
	AmountPaise             int64      `db:"amount_paise" json:"amount_paise"`
	Currency                string     `db:"currency" json:"currency"`
	PaymentOrderID          string     `db:"payment_order_id" json:"payment_order_id"`
	PaymentTransactionID    *string    `db:"payment_transaction_id" json:"payment_transaction_id,omitempty"`
	RefundAmountPaise       int64      `db:"refund_amount_paise" json:"refund_amount_paise"`
	PaymentRefundID         *string    `db:"payment_refund_id" json:"payment_refund_id,omitempty"`
	IdempotencyKey          *string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Status                  string     `db:"status" json:"status"`
	ConfirmedAt             *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledAt             *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ArrivalConfirmedAt      *time.Time `db:"arrival_confirmed_at" json:"arrival_confirmed_at,omitempty"`
	CompletedAt             *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledBy             *string    `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updated_at"`
}

// BookingOtp holds the HMAC of a one-time code; plaintext is never stored.
type BookingOtp struct {
	ID        int64      `db:"id"`
	BookingID int64      `db:"booking_id"`
	OtpType   string     `db:"otp_type"`
	OtpHash   string     `db:"otp_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// PaymentWebhookEvent is a dedup ledger row; inserting it is the claim.
type PaymentWebhookEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// BookingReview is the single review allowed per completed booking.
type BookingReview struct {
	ID                int64     `db:"id" json:"id"`
	BookingID         int64     `db:"booking_id" json:"booking_id"`
	UserAuthID        string    `db:"user_auth_id" json:"user_auth_id"`
	ProviderID        string    `db:"provider_id" json:"provider_id"`
	ProviderServiceID string    `db:"provider_service_id" json:"provider_service_id"`
	Rating            int       `db:"rating" json:"rating"`
	Comment           *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// PaymentOrder summarizes the gateway order opened for a booking.
type PaymentOrder struct {
	OrderID     string `json:"order_id"`
	AmountPaise int64  `json:"amount_paise"`
	Currency    string `json:"currency"`
	GatewayKey  string `json:"gateway_key"`
}

// TimeSlot is a bookable interval, half-open: [Start, End).
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
