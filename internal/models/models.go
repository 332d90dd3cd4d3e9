package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Order represents the money state of a customer order. Financial fields
// are mutated only by the webhook handlers; everything else belongs to the
// admin surface.
type Order struct {
	ID                        int64           `db:"id" json:"id"`
	Status                    string          `db:"status" json:"status"`
	TotalNet                  int64           `db:"total_net" json:"total_net"`
	Currency                  string          `db:"currency" json:"currency"`
	ProviderCheckoutSessionID sql.NullString  `db:"provider_checkout_session_id" json:"provider_checkout_session_id,omitempty"`
	ProviderPaymentIntentID   sql.NullString  `db:"provider_payment_intent_id" json:"provider_payment_intent_id,omitempty"`
	PaidAt                    sql.NullTime    `db:"paid_at" json:"paid_at,omitempty"`
	RefundedAmount            int64           `db:"refunded_amount" json:"refunded_amount"`
	RefundCount               int             `db:"refund_count" json:"refund_count"`
	Metadata                  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt                 time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt                 time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem represents a line item; used for the legacy direct-deduction
// fallback when an order predates stock reservations.
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	VariantID int64 `db:"variant_id" json:"variant_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

// Payment is created exactly once per provider payment ID. The unique
// constraint on provider_payment_id is the second idempotency layer.
type Payment struct {
	ID                int64         `db:"id" json:"id"`
	OrderID           sql.NullInt64 `db:"order_id" json:"order_id,omitempty"`
	Amount            int64         `db:"amount" json:"amount"`
	Currency          string        `db:"currency" json:"currency"`
	Method            string        `db:"method" json:"method"`
	ProviderPaymentID string        `db:"provider_payment_id" json:"provider_payment_id"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}

// Refund mirrors the Payment idempotency pattern, keyed on the provider
// refund ID.
type Refund struct {
	ID               int64         `db:"id" json:"id"`
	PaymentID        sql.NullInt64 `db:"payment_id" json:"payment_id,omitempty"`
	ProviderRefundID string        `db:"provider_refund_id" json:"provider_refund_id"`
	Amount           int64         `db:"amount" json:"amount"`
	Currency         string        `db:"currency" json:"currency"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
}

// OrderStatusHistory is an append-only audit trail, written only when the
// status actually changes.
type OrderStatusHistory struct {
	ID            int64     `db:"id" json:"id"`
	OrderID       int64     `db:"order_id" json:"order_id"`
	OldStatus     string    `db:"old_status" json:"old_status"`
	NewStatus     string    `db:"new_status" json:"new_status"`
	Reason        string    `db:"reason" json:"reason"`
	StripeEventID string    `db:"stripe_event_id" json:"stripe_event_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// InventoryMovement is one row of the append-only stock ledger. On-hand
// quantity for a variant is SUM(delta) over all of its rows. Releasing a
// reservation rewrites the row to kind=released with delta=0, which keeps
// the sum invariant and makes release idempotent.
type InventoryMovement struct {
	ID        int64           `db:"id" json:"id"`
	VariantID int64           `db:"variant_id" json:"variant_id"`
	Delta     int             `db:"delta" json:"delta"`
	Kind      string          `db:"kind" json:"kind"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// MovementMetadata ties a movement to its order and reservation.
type MovementMetadata struct {
	OrderID       int64  `json:"order_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// WebhookEvent is the idempotency record for a provider event. A unique
// violation on event_id is the authoritative "already processed" signal.
type WebhookEvent struct {
	EventID          string          `db:"event_id" json:"event_id"`
	EventType        string          `db:"event_type" json:"event_type"`
	PayloadJSON      json.RawMessage `db:"payload_json" json:"payload_json"`
	ProcessingStatus string          `db:"processing_status" json:"processing_status"`
	Error            sql.NullString  `db:"error" json:"error,omitempty"`
	ReceivedAt       time.Time       `db:"received_at" json:"received_at"`
	ProcessedAt      sql.NullTime    `db:"processed_at" json:"processed_at,omitempty"`
}

// InboxItem is a durable operator-facing alert. Write-only from this
// service.
type InboxItem struct {
	ID        int64           `db:"id" json:"id"`
	Title     string          `db:"title" json:"title"`
	Body      json.RawMessage `db:"body" json:"body"`
	Severity  string          `db:"severity" json:"severity"`
	Status    string          `db:"status" json:"status"`
	Kind      string          `db:"kind" json:"kind"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// AuditEvent captures decline codes, cancellation reasons and dispute
// payloads in the events table.
type AuditEvent struct {
	ID        int64           `db:"id" json:"id"`
	Kind      string          `db:"kind" json:"kind"`
	OrderID   sql.NullInt64   `db:"order_id" json:"order_id,omitempty"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Fulfillment exists once per paid order; creation is check-then-skip.
type Fulfillment struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CouponUsage records the single usage increment made after a first-time
// payment insert.
type CouponUsage struct {
	ID             int64     `db:"id" json:"id"`
	CouponID       int64     `db:"coupon_id" json:"coupon_id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	DiscountAmount int64     `db:"discount_amount" json:"discount_amount"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending           = "pending"
	OrderStatusPaid              = "paid"
	OrderStatusPartiallyRefunded = "partially_refunded"
	OrderStatusRefunded          = "refunded"
	OrderStatusPaymentFailed     = "payment_failed"
)

// Inventory movement kinds
const (
	MovementKindReservation = "reservation"
	MovementKindSale        = "sale"
	MovementKindReleased    = "released"
	MovementKindRestock     = "restock"
)

// Webhook event processing statuses
const (
	ProcessingStatusProcessing = "processing"
	ProcessingStatusProcessed  = "processed"
	ProcessingStatusFailed     = "failed"
)

// Inbox severities
const (
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Inbox kinds
const (
	InboxKindRefundAnomaly    = "refund_anomaly"
	InboxKindInventoryCleanup = "inventory_cleanup"
	InboxKindPaymentFailed    = "payment_failed"
	InboxKindChargeback       = "chargeback"
)

// Status-change reasons for the audit trail
const (
	ReasonPaymentSucceeded = "payment_succeeded"
	ReasonRefundPartial    = "refund_partial"
	ReasonRefundFull       = "refund_full"
	ReasonPaymentFailed    = "payment_failed"
	ReasonUnknown          = "unknown"
)
