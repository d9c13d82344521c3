package service

import (
	"context"
	"fmt"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// ReviewStore is the persistence surface for reviews.
type ReviewStore interface {
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	CreateReview(ctx context.Context, r *models.BookingReview) error
	ListReviewsByProvider(ctx context.Context, providerID string) ([]models.BookingReview, error)
}

// ReviewService records one review per completed booking.
type ReviewService struct {
	store  ReviewStore
	logger *zap.Logger
}

// NewReviewService creates a new review service
func NewReviewService(store ReviewStore) *ReviewService {
	return &ReviewService{store: store, logger: util.NamedLogger("review")}
}

// CreateReviewRequest carries a review submission.
type CreateReviewRequest struct {
	Rating  int     `json:"rating" binding:"required,min=1,max=5"`
	Comment *string `json:"comment,omitempty"`
}

// Create records a review. Only the booking's owner may review, only once,
// and only after completion.
func (s *ReviewService) Create(ctx context.Context, bookingID int64, userAuthID string, req *CreateReviewRequest) (*models.BookingReview, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperr.BadRequest("rating must be between 1 and 5")
	}

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
	if booking.Status != models.BookingStatusCompleted {
		return nil, apperr.BadRequest("only completed bookings can be reviewed")
	}

	review := &models.BookingReview{
		BookingID:         bookingID,
		UserAuthID:        userAuthID,
		ProviderID:        booking.ProviderID,
		ProviderServiceID: booking.ProviderServiceID,
		Rating:            req.Rating,
		Comment:           req.Comment,
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		if _, ok := apperr.AsConstraint(err); ok {
			return nil, apperr.Conflict("booking %d already has a review", bookingID)
		}
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	s.logger.Info("Review created",
		zap.Int64("booking_id", bookingID),
		zap.Int("rating", review.Rating))
	return review, nil
}

// ListByProvider returns a provider's reviews, newest first.
func (s *ReviewService) ListByProvider(ctx context.Context, providerID string) ([]models.BookingReview, error) {
	return s.store.ListReviewsByProvider(ctx, providerID)
}
