// Package otp issues and verifies the one-time codes that gate the arrival
// and completion checkpoints. Codes are HMAC-hashed before storage and are
// single use; verification failures do not reveal which check failed.
package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

const codeSpace = 1000000 // 6-digit codes, zero padded

// Store is the persistence surface the OTP service needs.
type Store interface {
	CreateOtp(ctx context.Context, otp *models.BookingOtp) error
	GetActiveOtp(ctx context.Context, bookingID int64, otpType string) (*models.BookingOtp, error)
	ConsumeOtp(ctx context.Context, id int64) (bool, error)
}

// AttemptLimiter throttles verification attempts. Limiter failures degrade
// open: verification proceeds and the failure is logged.
type AttemptLimiter interface {
	IncrAttempts(ctx context.Context, key string, window time.Duration) (int64, error)
	ClearAttempts(ctx context.Context, key string) error
}

type Service struct {
	store       Store
	limiter     AttemptLimiter
	secret      []byte
	ttl         time.Duration
	maxAttempts int64
	logger      *zap.Logger
}

type Config struct {
	Secret      string
	TTL         time.Duration
	MaxAttempts int
}

// NewService creates a new OTP service. limiter may be nil.
func NewService(store Store, limiter AttemptLimiter, cfg Config) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	maxAttempts := int64(cfg.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		store:       store,
		limiter:     limiter,
		secret:      []byte(cfg.Secret),
		ttl:         ttl,
		maxAttempts: maxAttempts,
		logger:      util.NamedLogger("otp"),
	}
}

// Generate issues a fresh code for the booking and checkpoint type, storing
// only its hash. The plaintext is returned exactly once for out-of-band
// delivery and must not be logged.
func (s *Service) Generate(ctx context.Context, bookingID int64, otpType string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	record := &models.BookingOtp{
		BookingID: bookingID,
		OtpType:   otpType,
		OtpHash:   s.hash(bookingID, otpType, code),
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.store.CreateOtp(ctx, record); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	util.OtpIssuedTotal.WithLabelValues(otpType).Inc()
	s.logger.Info("OTP issued",
		zap.Int64("booking_id", bookingID),
		zap.String("type", otpType))
	return code, nil
}

// Verify checks a presented code against the active record and consumes it.
// All failure modes surface as the same client error.
func (s *Service) Verify(ctx context.Context, bookingID int64, otpType, code string) error {
	attemptKey := fmt.Sprintf("otp-attempts:%d:%s", bookingID, otpType)
	if s.limiter != nil {
		attempts, err := s.limiter.IncrAttempts(ctx, attemptKey, s.ttl)
		if err != nil {
			s.logger.Warn("OTP attempt limiter unavailable",
				zap.Int64("booking_id", bookingID),
				zap.Error(err))
		} else if attempts > s.maxAttempts {
			util.OtpVerifyFailedTotal.WithLabelValues(otpType).Inc()
			return apperr.BadRequest("too many verification attempts")
		}
	}

	record, err := s.store.GetActiveOtp(ctx, bookingID, otpType)
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}
	if record == nil {
		util.OtpVerifyFailedTotal.WithLabelValues(otpType).Inc()
		return apperr.BadRequest("invalid or expired code")
	}

	presented := s.hash(bookingID, otpType, code)
	if !hmac.Equal([]byte(presented), []byte(record.OtpHash)) {
		util.OtpVerifyFailedTotal.WithLabelValues(otpType).Inc()
		return apperr.BadRequest("invalid or expired code")
	}

	consumed, err := s.store.ConsumeOtp(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !consumed {
		util.OtpVerifyFailedTotal.WithLabelValues(otpType).Inc()
		return apperr.BadRequest("invalid or expired code")
	}

	if s.limiter != nil {
		if err := s.limiter.ClearAttempts(ctx, attemptKey); err != nil {
			s.logger.Warn("Failed to clear OTP attempt counter", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) hash(bookingID int64, otpType, code string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d:%s:%s", bookingID, otpType, code)
	return hex.EncodeToString(mac.Sum(nil))
}
