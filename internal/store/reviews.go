package store

import (
	"context"

	"booking-service/internal/models"
)

// CreateReview inserts a review. A second review for the same booking
// surfaces as *apperr.ConstraintViolation on booking_id.
func (s *Store) CreateReview(ctx context.Context, r *models.BookingReview) error {
	query := `
		INSERT INTO booking_reviews (booking_id, user_auth_id, provider_id, provider_service_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, r, query,
		r.BookingID, r.UserAuthID, r.ProviderID, r.ProviderServiceID, r.Rating, r.Comment)
	return mapConstraintError(err)
}

// ListReviewsByProvider retrieves reviews for a provider, newest first
func (s *Store) ListReviewsByProvider(ctx context.Context, providerID string) ([]models.BookingReview, error) {
	var reviews []models.BookingReview
	err := s.db.SelectContext(ctx, &reviews,
		"SELECT * FROM booking_reviews WHERE provider_id = $1 ORDER BY created_at DESC", providerID)
	return reviews, err
}
