package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"booking-service/internal/models"
)

// Conditional updates below return (nil, nil) when the status precondition no
// longer holds (zero rows). Callers that need to distinguish "not found" from
// "already transitioned" follow up with a plain read.

// CreateBooking inserts a new booking. A duplicate idempotency key surfaces
// as *apperr.ConstraintViolation.
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (
			user_auth_id, provider_id, provider_service_id, provider_auth_id,
			slot_start, slot_end, amount_paise, currency,
			payment_order_id, idempotency_key, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, b, query,
		b.UserAuthID, b.ProviderID, b.ProviderServiceID, b.ProviderAuthID,
		b.SlotStart, b.SlotEnd, b.AmountPaise, b.Currency,
		b.PaymentOrderID, b.IdempotencyKey, b.Status)
	return mapConstraintError(err)
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT * FROM bookings WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByIdempotencyKey retrieves a booking by idempotency key
func (s *Store) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT * FROM bookings WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByOrderID retrieves a booking by its payment order reference
func (s *Store) GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT * FROM bookings WHERE payment_order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ConfirmPayment moves PENDING_PAYMENT to CONFIRMED and records the captured
// transaction, keyed by the gateway order id.
func (s *Store) ConfirmPayment(ctx context.Context, orderID, transactionID string) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $1, payment_transaction_id = $2, confirmed_at = NOW(), updated_at = NOW()
		WHERE payment_order_id = $3 AND status = $4
		RETURNING *`

	var b models.Booking
	err := s.db.GetContext(ctx, &b, query,
		models.BookingStatusConfirmed, transactionID, orderID, models.BookingStatusPendingPayment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FailPayment moves PENDING_PAYMENT to PAYMENT_FAILED, keyed by order id.
func (s *Store) FailPayment(ctx context.Context, orderID string) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE payment_order_id = $2 AND status = $3
		RETURNING *`

	var b models.Booking
	err := s.db.GetContext(ctx, &b, query,
		models.BookingStatusPaymentFailed, orderID, models.BookingStatusPendingPayment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CancelBooking cancels a booking still in PENDING_PAYMENT or CONFIRMED.
// Exactly one of two racing cancellations observes a row here.
func (s *Store) CancelBooking(ctx context.Context, id int64, cancelledBy string, refundPaise int64, refundID *string) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $1, cancelled_by = $2, refund_amount_paise = $3,
		    payment_refund_id = $4, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $5 AND status IN ($6, $7)
		RETURNING *`

	var b models.Booking
	err := s.db.GetContext(ctx, &b, query,
		models.BookingStatusCancelled, cancelledBy, refundPaise, refundID, id,
		models.BookingStatusPendingPayment, models.BookingStatusConfirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// AssignServicePerson records the assignment on a CONFIRMED booking.
func (s *Store) AssignServicePerson(ctx context.Context, id int64, personID string) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET assigned_service_person_id = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING *`

	var b models.Booking
	err := s.db.GetContext(ctx, &b, query, personID, id, models.BookingStatusConfirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ConfirmArrival moves CONFIRMED to ARRIVAL_CONFIRMED.
func (s *Store) ConfirmArrival(ctx context.Context, id int64) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $1, arrival_confirmed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING *`

	var b models.Booking
	err := s.db.GetContext(ctx, &b, query,
		models.BookingStatusArrivalConfirmed, id, models.BookingStatusConfirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// MarkPendingCompletion moves ARRIVAL_CONFIRMED to PENDING_COMPLETION_VERIFICATION.
func (s *Store) MarkPendingCompletion(ctx context.Context, id int64) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING *`

	var b models.Booking
	err := s.db.GetContext(ctx, &b, query,
		models.BookingStatusPendingCompletionCheck, id, models.BookingStatusArrivalConfirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CompleteBooking moves PENDING_COMPLETION_VERIFICATION to COMPLETED.
func (s *Store) CompleteBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING *`

	var b models.Booking
	err := s.db.GetContext(ctx, &b, query,
		models.BookingStatusCompleted, id, models.BookingStatusPendingCompletionCheck)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookingsByUser retrieves bookings for a user, newest first
func (s *Store) ListBookingsByUser(ctx context.Context, userAuthID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT * FROM bookings WHERE user_auth_id = $1 ORDER BY created_at DESC", userAuthID)
	return bookings, err
}

// ListBookingsByProvider retrieves bookings for a provider, newest first
func (s *Store) ListBookingsByProvider(ctx context.Context, providerID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT * FROM bookings WHERE provider_id = $1 ORDER BY created_at DESC", providerID)
	return bookings, err
}

// ListActiveBookingsInRange retrieves a provider's bookings overlapping
// [from, to) that still occupy their slot. Cancelled and payment-failed
// bookings do not block availability.
func (s *Store) ListActiveBookingsInRange(ctx context.Context, providerID string, from, to time.Time) ([]models.Booking, error) {
	query := `
		SELECT * FROM bookings
		WHERE provider_id = $1
		  AND status NOT IN ($2, $3)
		  AND slot_start < $4 AND slot_end > $5
		ORDER BY slot_start`

	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings, query,
		providerID, models.BookingStatusCancelled, models.BookingStatusPaymentFailed, to, from)
	return bookings, err
}
