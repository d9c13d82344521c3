package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NotificationPublisher publishes user-facing notification events. Every
// call site treats it as best-effort: failures are logged, never propagated.
type NotificationPublisher struct {
	producer *Producer
}

// NewNotificationPublisher creates a new notification publisher
func NewNotificationPublisher(producer *Producer) *NotificationPublisher {
	return &NotificationPublisher{producer: producer}
}

// Publish sends a notification event keyed by recipient so per-recipient
// ordering is preserved. The event id is assigned here if absent.
func (np *NotificationPublisher) Publish(ctx context.Context, event models.NotificationEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.EventType == "" {
		event.EventType = event.Type
	}
	return np.producer.PublishEvent(ctx, "user-"+event.RecipientAuthID, &event)
}

// PaymentEventHandler routes payment events from the broker to the
// registered callbacks.
type PaymentEventHandler struct {
	onCaptured func(context.Context, *models.PaymentCapturedEvent) error
	onFailed   func(context.Context, *models.PaymentFailedEvent) error
	logger     *zap.Logger
}

// NewPaymentEventHandler creates a new payment event handler
func NewPaymentEventHandler() *PaymentEventHandler {
	return &PaymentEventHandler{logger: util.NamedLogger("broker")}
}

// OnPaymentCaptured registers a handler for capture events
func (eh *PaymentEventHandler) OnPaymentCaptured(handler func(context.Context, *models.PaymentCapturedEvent) error) {
	eh.onCaptured = handler
}

// OnPaymentFailed registers a handler for failure events
func (eh *PaymentEventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onFailed = handler
}

// HandleMessage routes a message to the appropriate handler
func (eh *PaymentEventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Info("Handling payment event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentCaptured:
		if eh.onCaptured != nil {
			var event models.PaymentCapturedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentCaptured event: %w", err)
			}
			return eh.onCaptured(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onFailed(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
