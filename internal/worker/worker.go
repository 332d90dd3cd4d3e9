package worker

import (
	"context"
	"encoding/json"
	"log"

	"payment-reconciler/internal/broker"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/service"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NotificationWorker is the error channel for fire-and-forget side
// effects: it consumes notification events and drives the mailer. A
// failed send is logged here and never reaches webhook processing.
type NotificationWorker struct {
	consumer *broker.Consumer
	mailer   service.Mailer
	logger   *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, mailer service.Mailer, logger *zap.Logger) *NotificationWorker {
	return &NotificationWorker{
		consumer: consumer,
		mailer:   mailer,
		logger:   logger,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		w.logger.Error("failed to unmarshal notification event", zap.Error(err))
		// Malformed messages are dropped, not retried.
		return nil
	}

	switch base.EventType {
	case models.EventTypeConfirmationRequested:
		var event models.ConfirmationRequestedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			w.logger.Error("failed to unmarshal confirmation request", zap.Error(err))
			return nil
		}
		if err := w.mailer.SendOrderConfirmation(ctx, event.OrderID); err != nil {
			w.logger.Error("order confirmation email failed",
				zap.Int64("order_id", event.OrderID), zap.Error(err))
		}

	case models.EventTypeOrderRefunded, models.EventTypePaymentFailed:
		// Consumed by downstream services; nothing to do here.

	default:
		w.logger.Info("unhandled notification event type",
			zap.String("event_type", base.EventType))
	}

	return nil
}
