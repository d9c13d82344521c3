package worker

import (
	"context"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// WebhookLedger deduplicates broker deliveries by event id, sharing the same
// ledger as the HTTP webhook path so an event mirrored over both transports
// is still processed once.
type WebhookLedger interface {
	ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error)
}

// PaymentWorker consumes payment events from the broker and drives the same
// state transitions as the HTTP webhook.
type PaymentWorker struct {
	consumer *broker.Consumer
	handler  *broker.PaymentEventHandler
	logger   *zap.Logger
}

// NewPaymentWorker creates a new payment events worker
func NewPaymentWorker(consumer *broker.Consumer, bookings *service.BookingService, ledger WebhookLedger) *PaymentWorker {
	logger := util.NamedLogger("worker")
	handler := broker.NewPaymentEventHandler()

	handler.OnPaymentCaptured(func(ctx context.Context, event *models.PaymentCapturedEvent) error {
		claimed, err := ledger.ClaimWebhookEvent(ctx, event.EventID, event.EventType)
		if err != nil {
			return err
		}
		if !claimed {
			logger.Info("Duplicate payment event skipped", zap.String("event_id", event.EventID))
			return nil
		}
		return bookings.HandlePaymentCaptured(ctx, event.OrderID, event.TransactionID)
	})

	handler.OnPaymentFailed(func(ctx context.Context, event *models.PaymentFailedEvent) error {
		claimed, err := ledger.ClaimWebhookEvent(ctx, event.EventID, event.EventType)
		if err != nil {
			return err
		}
		if !claimed {
			logger.Info("Duplicate payment event skipped", zap.String("event_id", event.EventID))
			return nil
		}
		return bookings.HandlePaymentFailed(ctx, event.OrderID)
	})

	return &PaymentWorker{consumer: consumer, handler: handler, logger: logger}
}

// Start starts consuming payment events
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}
