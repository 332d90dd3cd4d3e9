package broker

import (
	"context"
	"fmt"
	"time"

	"payment-reconciler/internal/models"

	"github.com/google/uuid"
)

// EventPublisher publishes notification events after state changes commit.
// All publishes are fire-and-forget from the webhook's point of view:
// callers log a failed publish and move on.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishConfirmationRequested asks the notification worker to send the
// order-confirmation email.
func (ep *EventPublisher) PublishConfirmationRequested(ctx context.Context, orderID int64) error {
	event := &models.ConfirmationRequestedEvent{
		BaseEvent: newBaseEvent(models.EventTypeConfirmationRequested),
		OrderID:   orderID,
	}
	return ep.producer.PublishEvent(ctx, orderKey(orderID), event)
}

// PublishOrderRefunded announces a recorded refund.
func (ep *EventPublisher) PublishOrderRefunded(ctx context.Context, orderID, amount, refundedAmount int64, status string) error {
	event := &models.OrderRefundedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderRefunded),
		OrderID:        orderID,
		Amount:         amount,
		RefundedAmount: refundedAmount,
		Status:         status,
	}
	return ep.producer.PublishEvent(ctx, orderKey(orderID), event)
}

// PublishPaymentFailed announces a failed or canceled payment.
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, orderID int64, reason string) error {
	event := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		OrderID:   orderID,
		Reason:    reason,
	}
	return ep.producer.PublishEvent(ctx, orderKey(orderID), event)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}
