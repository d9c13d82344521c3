package store

import (
	"context"
	"database/sql"
	"errors"

	"booking-service/internal/models"
)

// CreateOtp stores a hashed one-time code
func (s *Store) CreateOtp(ctx context.Context, otp *models.BookingOtp) error {
	query := `
		INSERT INTO booking_otps (booking_id, otp_type, otp_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, otp, query,
		otp.BookingID, otp.OtpType, otp.OtpHash, otp.ExpiresAt)
}

// GetActiveOtp returns the most recent unused, unexpired code of the given
// type for a booking, or (nil, nil) if none is active.
func (s *Store) GetActiveOtp(ctx context.Context, bookingID int64, otpType string) (*models.BookingOtp, error) {
	query := `
		SELECT * FROM booking_otps
		WHERE booking_id = $1 AND otp_type = $2 AND used_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1`

	var otp models.BookingOtp
	err := s.db.GetContext(ctx, &otp, query, bookingID, otpType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

// ConsumeOtp marks a code used. Returns false if it was already consumed by
// a racing verification.
func (s *Store) ConsumeOtp(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE booking_otps SET used_at = NOW() WHERE id = $1 AND used_at IS NULL", id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
