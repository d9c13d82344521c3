package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/gateway"
	"booking-service/internal/models"
	"booking-service/internal/quote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory BookingStore/ReviewStore with the same atomicity
// guarantees the SQL layer provides: every conditional update runs under one
// lock, so exactly one of N racing transitions wins.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	bookings map[int64]*models.Booking
	reviews  map[int64]*models.BookingReview
	claimed  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bookings: make(map[int64]*models.Booking),
		reviews:  make(map[int64]*models.BookingReview),
		claimed:  make(map[string]bool),
	}
}

func (f *fakeStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.IdempotencyKey != nil {
		for _, existing := range f.bookings {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *b.IdempotencyKey {
				return &apperr.ConstraintViolation{Constraint: "bookings_idempotency_key_key"}
			}
		}
	}
	f.nextID++
	b.ID = f.nextID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	copied := *b
	f.bookings[b.ID] = &copied
	return nil
}

func (f *fakeStore) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (f *fakeStore) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.IdempotencyKey != nil && *b.IdempotencyKey == key {
			copied := *b
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.PaymentOrderID == orderID {
			copied := *b
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ConfirmPayment(ctx context.Context, orderID, transactionID string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.PaymentOrderID == orderID && b.Status == models.BookingStatusPendingPayment {
			now := time.Now()
			b.Status = models.BookingStatusConfirmed
			b.PaymentTransactionID = &transactionID
			b.ConfirmedAt = &now
			copied := *b
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FailPayment(ctx context.Context, orderID string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.PaymentOrderID == orderID && b.Status == models.BookingStatusPendingPayment {
			b.Status = models.BookingStatusPaymentFailed
			copied := *b
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CancelBooking(ctx context.Context, id int64, cancelledBy string, refundPaise int64, refundID *string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, nil
	}
	if b.Status != models.BookingStatusPendingPayment && b.Status != models.BookingStatusConfirmed {
		return nil, nil
	}
	now := time.Now()
	b.Status = models.BookingStatusCancelled
	b.CancelledBy = &cancelledBy
	b.RefundAmountPaise = refundPaise
	b.PaymentRefundID = refundID
	b.CancelledAt = &now
	copied := *b
	return &copied, nil
}

func (f *fakeStore) AssignServicePerson(ctx context.Context, id int64, personID string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.Status != models.BookingStatusConfirmed {
		return nil, nil
	}
	b.AssignedServicePersonID = &personID
	copied := *b
	return &copied, nil
}

func (f *fakeStore) ConfirmArrival(ctx context.Context, id int64) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.Status != models.BookingStatusConfirmed {
		return nil, nil
	}
	now := time.Now()
	b.Status = models.BookingStatusArrivalConfirmed
	b.ArrivalConfirmedAt = &now
	copied := *b
	return &copied, nil
}

func (f *fakeStore) MarkPendingCompletion(ctx context.Context, id int64) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.Status != models.BookingStatusArrivalConfirmed {
		return nil, nil
	}
	b.Status = models.BookingStatusPendingCompletionCheck
	copied := *b
	return &copied, nil
}

func (f *fakeStore) CompleteBooking(ctx context.Context, id int64) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.Status != models.BookingStatusPendingCompletionCheck {
		return nil, nil
	}
	now := time.Now()
	b.Status = models.BookingStatusCompleted
	b.CompletedAt = &now
	copied := *b
	return &copied, nil
}

func (f *fakeStore) ListBookingsByUser(ctx context.Context, userAuthID string) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.UserAuthID == userAuthID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBookingsByProvider(ctx context.Context, providerID string) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.ProviderID == providerID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveBookingsInRange(ctx context.Context, providerID string, from, to time.Time) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.ProviderID != providerID {
			continue
		}
		if b.Status == models.BookingStatusCancelled || b.Status == models.BookingStatusPaymentFailed {
			continue
		}
		if b.SlotStart.Before(to) && b.SlotEnd.After(from) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateReview(ctx context.Context, r *models.BookingReview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.reviews[r.BookingID]; exists {
		return &apperr.ConstraintViolation{Constraint: "booking_reviews_booking_id_key"}
	}
	f.nextID++
	r.ID = f.nextID
	r.CreatedAt = time.Now()
	copied := *r
	f.reviews[r.BookingID] = &copied
	return nil
}

func (f *fakeStore) ListReviewsByProvider(ctx context.Context, providerID string) ([]models.BookingReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BookingReview
	for _, r := range f.reviews {
		if r.ProviderID == providerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[eventID] {
		return false, nil
	}
	f.claimed[eventID] = true
	return true, nil
}

type fakeGateway struct {
	mu          sync.Mutex
	orders      int
	refunds     []int64
	refundErr   error
	orderPrefix string
}

func (f *fakeGateway) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders++
	return &gateway.Order{
		ID:       fmt.Sprintf("%s_%d", f.orderPrefix, f.orders),
		Amount:   amountPaise,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (f *fakeGateway) CreateRefund(ctx context.Context, transactionID string, amountPaise int64, notes map[string]string) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds = append(f.refunds, amountPaise)
	return &gateway.Refund{
		ID:        fmt.Sprintf("rfnd_%d", len(f.refunds)),
		PaymentID: transactionID,
		Amount:    amountPaise,
		Status:    "processed",
	}, nil
}

func (f *fakeGateway) KeyID() string { return "rzp_test_key" }

type fakeQuotes struct {
	quote     quote.Quote
	quoteErr  error
	intervals []quote.MinuteInterval
}

func (f *fakeQuotes) GetQuote(ctx context.Context, providerID, serviceID string) (*quote.Quote, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	q := f.quote
	return &q, nil
}

func (f *fakeQuotes) GetOpenIntervals(ctx context.Context, providerID, date string) ([]quote.MinuteInterval, error) {
	return f.intervals, nil
}

type fakeOtp struct {
	mu        sync.Mutex
	generated []string
	verifyErr error
}

func (f *fakeOtp) Generate(ctx context.Context, bookingID int64, otpType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, otpType)
	return "123456", nil
}

func (f *fakeOtp) Verify(ctx context.Context, bookingID int64, otpType, code string) error {
	return f.verifyErr
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
	err    error
}

func (f *fakeNotifier) Publish(ctx context.Context, event models.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) byType(t string) []models.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NotificationEvent
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	store    *fakeStore
	gateway  *fakeGateway
	quotes   *fakeQuotes
	otp      *fakeOtp
	notifier *fakeNotifier
	svc      *BookingService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:   newFakeStore(),
		gateway: &fakeGateway{orderPrefix: "order"},
		quotes: &fakeQuotes{
			quote: quote.Quote{PriceMinorUnits: 10000, DurationMinutes: 60, ProviderAuthID: "prov-auth-1"},
		},
		otp:      &fakeOtp{},
		notifier: &fakeNotifier{},
	}
	env.svc = NewBookingService(env.store, env.gateway, env.quotes, env.otp, env.notifier)
	return env
}

func (e *testEnv) createRequest(key string) *CreateBookingRequest {
	return &CreateBookingRequest{
		ProviderID:        "prov-1",
		ProviderServiceID: "svc-1",
		SlotStart:         time.Now().Add(48 * time.Hour),
		IdempotencyKey:    key,
	}
}

func (e *testEnv) confirmedBooking(t *testing.T) *models.Booking {
	t.Helper()
	resp, err := e.svc.Create(context.Background(), "user-1", e.createRequest(""))
	require.NoError(t, err)
	require.NoError(t, e.svc.HandlePaymentCaptured(context.Background(), resp.PaymentOrder.OrderID, "pay_1"))
	b, err := e.store.GetBookingByID(context.Background(), resp.Booking.ID)
	require.NoError(t, err)
	return b
}

func TestCreateUsesQuotedPrice(t *testing.T) {
	env := newTestEnv()

	resp, err := env.svc.Create(context.Background(), "user-1", env.createRequest(""))
	require.NoError(t, err)

	assert.Equal(t, int64(10000), resp.Booking.AmountPaise)
	assert.Equal(t, models.BookingStatusPendingPayment, resp.Booking.Status)
	assert.Equal(t, "order_1", resp.PaymentOrder.OrderID)
	assert.Equal(t, "rzp_test_key", resp.PaymentOrder.GatewayKey)
	require.NotNil(t, resp.Booking.ProviderAuthID)
	assert.Equal(t, "prov-auth-1", *resp.Booking.ProviderAuthID)
	// slot end derived from the quoted duration
	assert.Equal(t, resp.Booking.SlotStart.Add(time.Hour), resp.Booking.SlotEnd)
}

func TestCreateRejectsBelowMinimumAmount(t *testing.T) {
	env := newTestEnv()
	env.quotes.quote.PriceMinorUnits = 99

	_, err := env.svc.Create(context.Background(), "user-1", env.createRequest(""))
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Equal(t, 0, env.gateway.orders)
}

func TestCreateIdempotentReplay(t *testing.T) {
	env := newTestEnv()

	first, err := env.svc.Create(context.Background(), "user-1", env.createRequest("key-1"))
	require.NoError(t, err)

	second, err := env.svc.Create(context.Background(), "user-1", env.createRequest("key-1"))
	require.NoError(t, err)

	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Equal(t, first.PaymentOrder.OrderID, second.PaymentOrder.OrderID)
	assert.Equal(t, 1, env.gateway.orders)
}

func TestCreateIdempotencyRace(t *testing.T) {
	env := newTestEnv()

	const racers = 8
	results := make([]*CreateBookingResponse, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Create(context.Background(), "user-1", env.createRequest("race-key"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < racers; i++ {
		assert.Equal(t, results[0].Booking.ID, results[i].Booking.ID)
		assert.Equal(t, results[0].PaymentOrder.OrderID, results[i].PaymentOrder.OrderID)
	}
	assert.Len(t, env.store.bookings, 1)
}

func TestHandlePaymentCapturedTransitionsOnce(t *testing.T) {
	env := newTestEnv()
	resp, err := env.svc.Create(context.Background(), "user-1", env.createRequest(""))
	require.NoError(t, err)
	orderID := resp.PaymentOrder.OrderID

	require.NoError(t, env.svc.HandlePaymentCaptured(context.Background(), orderID, "pay_1"))

	b, err := env.store.GetBookingByID(context.Background(), resp.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	require.NotNil(t, b.PaymentTransactionID)
	assert.Equal(t, "pay_1", *b.PaymentTransactionID)
	firstCount := len(env.notifier.byType(models.NotifyBookingConfirmed))

	// duplicate delivery is a no-op: status unchanged, no second notification
	require.NoError(t, env.svc.HandlePaymentCaptured(context.Background(), orderID, "pay_1"))

	b, err = env.store.GetBookingByID(context.Background(), resp.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	assert.Equal(t, firstCount, len(env.notifier.byType(models.NotifyBookingConfirmed)))
}

func TestHandlePaymentCapturedUnknownOrder(t *testing.T) {
	env := newTestEnv()
	assert.NoError(t, env.svc.HandlePaymentCaptured(context.Background(), "order_missing", "pay_x"))
}

func TestHandlePaymentFailed(t *testing.T) {
	env := newTestEnv()
	resp, err := env.svc.Create(context.Background(), "user-1", env.createRequest(""))
	require.NoError(t, err)

	require.NoError(t, env.svc.HandlePaymentFailed(context.Background(), resp.PaymentOrder.OrderID))

	b, err := env.store.GetBookingByID(context.Background(), resp.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPaymentFailed, b.Status)

	// capture after failure is ignored
	require.NoError(t, env.svc.HandlePaymentCaptured(context.Background(), resp.PaymentOrder.OrderID, "pay_1"))
	b, err = env.store.GetBookingByID(context.Background(), resp.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPaymentFailed, b.Status)
}

func TestRefundPolicyBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		timeToSlot time.Duration
		want       int64
	}{
		{"25h full refund", 25 * time.Hour, 10000},
		{"exactly 24h full refund", 24 * time.Hour, 10000},
		{"20h half refund", 20 * time.Hour, 5000},
		{"exactly 12h half refund", 12 * time.Hour, 5000},
		{"6h no refund", 6 * time.Hour, 0},
		{"past slot no refund", -time.Hour, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RefundForCancellation(10000, tc.timeToSlot))
		})
	}
}

func TestRefundPolicyFloorsOddAmounts(t *testing.T) {
	assert.Equal(t, int64(50), RefundForCancellation(101, 13*time.Hour))
}

func TestCancelByUserRefundsThroughGateway(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	env.svc.now = func() time.Time { return booking.SlotStart.Add(-25 * time.Hour) }

	cancelled, err := env.svc.CancelByUser(context.Background(), booking.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, int64(10000), cancelled.RefundAmountPaise)
	require.NotNil(t, cancelled.PaymentRefundID)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, models.CancelledByUser, *cancelled.CancelledBy)
	assert.Equal(t, []int64{10000}, env.gateway.refunds)
	assert.Len(t, env.notifier.byType(models.NotifyRefundInitiated), 1)
}

func TestCancelByUserInsideNoRefundWindow(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	env.svc.now = func() time.Time { return booking.SlotStart.Add(-6 * time.Hour) }

	cancelled, err := env.svc.CancelByUser(context.Background(), booking.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, int64(0), cancelled.RefundAmountPaise)
	assert.Nil(t, cancelled.PaymentRefundID)
	assert.Empty(t, env.gateway.refunds)
	assert.Empty(t, env.notifier.byType(models.NotifyRefundInitiated))
}

func TestCancelByProviderAlwaysRefundsFully(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	env.svc.now = func() time.Time { return booking.SlotStart.Add(-1 * time.Hour) }

	cancelled, err := env.svc.CancelByProvider(context.Background(), booking.ID, "prov-1")
	require.NoError(t, err)

	assert.Equal(t, int64(10000), cancelled.RefundAmountPaise)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, models.CancelledByProvider, *cancelled.CancelledBy)
	assert.Equal(t, []int64{10000}, env.gateway.refunds)
}

func TestCancelRefundFailureAbortsCancellation(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)
	env.gateway.refundErr = fmt.Errorf("gateway unavailable")
	env.svc.now = func() time.Time { return booking.SlotStart.Add(-25 * time.Hour) }

	_, err := env.svc.CancelByUser(context.Background(), booking.ID, "user-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnprocessable, apperr.KindOf(err))

	b, err := env.store.GetBookingByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
}

func TestCancelAuthorization(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	_, err := env.svc.CancelByUser(context.Background(), booking.ID, "someone-else")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = env.svc.CancelByProvider(context.Background(), booking.ID, "other-provider")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = env.svc.CancelByUser(context.Background(), 9999, "user-1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// staleReadStore simulates two cancellations that both read CONFIRMED before
// either writes: reads return a fixed snapshot while writes stay atomic.
type staleReadStore struct {
	*fakeStore
	snapshot *models.Booking
}

func (s *staleReadStore) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	copied := *s.snapshot
	return &copied, nil
}

func TestDoubleCancelConflict(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)
	env.svc.now = func() time.Time { return booking.SlotStart.Add(-25 * time.Hour) }

	stale := &staleReadStore{fakeStore: env.store, snapshot: booking}
	env.svc.store = stale

	_, err := env.svc.CancelByUser(context.Background(), booking.ID, "user-1")
	require.NoError(t, err)

	_, err = env.svc.CancelByUser(context.Background(), booking.ID, "user-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCancelIllegalFromCompleted(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)
	env.store.bookings[booking.ID].Status = models.BookingStatusCompleted

	_, err := env.svc.CancelByUser(context.Background(), booking.ID, "user-1")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestAssignServicePersonIssuesArrivalOtp(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	updated, err := env.svc.AssignServicePerson(context.Background(), booking.ID, "prov-1", "person-7")
	require.NoError(t, err)

	require.NotNil(t, updated.AssignedServicePersonID)
	assert.Equal(t, "person-7", *updated.AssignedServicePersonID)
	assert.Equal(t, []string{models.OtpTypeArrival}, env.otp.generated)

	otpEvents := env.notifier.byType(models.NotifyArrivalOtp)
	require.Len(t, otpEvents, 1)
	assert.Equal(t, "user-1", otpEvents[0].RecipientAuthID)
	assert.Equal(t, "123456", otpEvents[0].Metadata["otp"])
	assert.Len(t, env.notifier.byType(models.NotifyServicePersonAssigned), 1)
}

func TestAssignServicePersonRequiresConfirmed(t *testing.T) {
	env := newTestEnv()
	resp, err := env.svc.Create(context.Background(), "user-1", env.createRequest(""))
	require.NoError(t, err)

	_, err = env.svc.AssignServicePerson(context.Background(), resp.Booking.ID, "prov-1", "person-7")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Empty(t, env.otp.generated)
}

func TestConfirmArrival(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	updated, err := env.svc.ConfirmArrival(context.Background(), booking.ID, "prov-1", "123456")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusArrivalConfirmed, updated.Status)
	assert.NotNil(t, updated.ArrivalConfirmedAt)
}

func TestConfirmArrivalBadOtpLeavesStatus(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)
	env.otp.verifyErr = apperr.BadRequest("invalid or expired code")

	_, err := env.svc.ConfirmArrival(context.Background(), booking.ID, "prov-1", "000000")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	b, err := env.store.GetBookingByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
}

func TestMarkCompleteAndVerifyCompletion(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	_, err := env.svc.ConfirmArrival(context.Background(), booking.ID, "prov-1", "123456")
	require.NoError(t, err)

	pending, err := env.svc.MarkComplete(context.Background(), booking.ID, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPendingCompletionCheck, pending.Status)
	assert.Contains(t, env.otp.generated, models.OtpTypeCompletion)
	require.Len(t, env.notifier.byType(models.NotifyCompletionOtp), 1)

	completed, err := env.svc.VerifyCompletion(context.Background(), booking.ID, "user-1", "123456")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestMarkCompleteRequiresArrivalConfirmed(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	_, err := env.svc.MarkComplete(context.Background(), booking.ID, "prov-1")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestVerifyCompletionWrongUser(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	_, err := env.svc.VerifyCompletion(context.Background(), booking.ID, "intruder", "123456")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv()
	resp, err := env.svc.Create(context.Background(), "user-1", env.createRequest(""))
	require.NoError(t, err)

	env.notifier.err = fmt.Errorf("broker down")
	require.NoError(t, env.svc.HandlePaymentCaptured(context.Background(), resp.PaymentOrder.OrderID, "pay_1"))

	b, err := env.store.GetBookingByID(context.Background(), resp.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
}

func TestGetBookingAuthorization(t *testing.T) {
	env := newTestEnv()
	booking := env.confirmedBooking(t)

	_, err := env.svc.GetBooking(context.Background(), booking.ID, "user-1", "")
	assert.NoError(t, err)

	_, err = env.svc.GetBooking(context.Background(), booking.ID, "", "prov-1")
	assert.NoError(t, err)

	_, err = env.svc.GetBooking(context.Background(), booking.ID, "intruder", "other")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
