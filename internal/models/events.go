package models

import "time"

// Notification event types published to Kafka after state changes commit.
// The notification worker consumes these; failures on that side never feed
// back into webhook processing.
const (
	EventTypeConfirmationRequested = "ORDER_CONFIRMATION_REQUESTED"
	EventTypeOrderRefunded         = "ORDER_REFUNDED"
	EventTypePaymentFailed         = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all notification events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfirmationRequestedEvent asks the notification worker to send the
// order-confirmation email. Published only on first-time payment success,
// never for duplicates.
type ConfirmationRequestedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// OrderRefundedEvent is published after a refund is recorded.
type OrderRefundedEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	Amount         int64  `json:"amount"`
	RefundedAmount int64  `json:"refunded_amount"`
	Status         string `json:"status"`
}

// PaymentFailedEvent is published when a payment fails or is canceled.
type PaymentFailedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}
