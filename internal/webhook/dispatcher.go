package webhook

import (
	"context"
	"errors"
	"time"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/provider"
	"payment-reconciler/internal/util"

	"go.uber.org/zap"
)

var (
	// ErrRefundExceedsTotal marks a refund whose projected total would
	// exceed the order's total_net. Always alerted before being returned.
	ErrRefundExceedsTotal = errors.New("projected refund exceeds order total")

	// ErrConcurrentRefund marks a lost optimistic-concurrency race on the
	// refund update: another writer consumed the refund budget between the
	// read and the guarded write. The provider's redelivery re-evaluates
	// against current state.
	ErrConcurrentRefund = errors.New("concurrent refund rejected")
)

// Result is the advisory outcome returned to the provider. Everything the
// dispatcher recognizes, including unknown event types and rejected-by-
// design cases, is a successful receipt.
type Result struct {
	OK        bool `json:"ok"`
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
}

func received() Result  { return Result{OK: true, Received: true} }
func duplicate() Result { return Result{OK: true, Received: true, Duplicate: true} }
func ignored() Result   { return Result{OK: true, Received: true, Ignored: true} }

// Store is the slice of the relational store the handlers mutate. All
// idempotency and race windows close inside it, never in handler code.
type Store interface {
	ReserveEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
	MarkEventFailed(ctx context.Context, eventID, errMsg string) error

	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID int64, checkoutSessionID, paymentIntentID string) error
	TransitionOrderStatus(ctx context.Context, orderID int64, from, to, reason, eventID string) (bool, error)
	ApplyRefund(ctx context.Context, orderID, amount int64) (bool, error)
	MergeOrderShipping(ctx context.Context, orderID int64, name string, addr any) error
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	EnsureFulfillment(ctx context.Context, orderID int64) error
	RecordCouponUsage(ctx context.Context, couponID, orderID, discountAmount int64) error

	InsertPayment(ctx context.Context, payment *models.Payment) error
	InsertRefund(ctx context.Context, refund *models.Refund) error
	RefundExists(ctx context.Context, providerRefundID string) (bool, error)
	FindPaymentForRefund(ctx context.Context, paymentIntentID string, orderID int64) (*models.Payment, error)

	InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error
	CreateInboxItem(ctx context.Context, title string, body any, severity, kind string) error
}

// Inventory is the stock-ledger surface the handlers touch.
type Inventory interface {
	ConsumeStockReservationForOrder(ctx context.Context, orderID int64) (bool, error)
	ReleaseStockReservationForOrder(ctx context.Context, orderID int64) (int, error)
	DeductStockForOrder(ctx context.Context, orderID int64, items []models.OrderItem) error
}

// Notifier is the fire-and-forget side-effect channel. Publish failures
// are logged by the caller and never fail a handler.
type Notifier interface {
	PublishConfirmationRequested(ctx context.Context, orderID int64) error
	PublishOrderRefunded(ctx context.Context, orderID, amount, refundedAmount int64, status string) error
	PublishPaymentFailed(ctx context.Context, orderID int64, reason string) error
}

// DuplicateFilter is the optional fast path for duplicate detection.
// Entries are written only after an event fully processed, so a hit means
// "definitely already done". The unique constraint on webhook_events
// remains the authoritative check.
type DuplicateFilter interface {
	EventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

const seenEventTTL = 24 * time.Hour

type handlerFunc func(ctx context.Context, ev *provider.Event) (Result, error)

// Dispatcher routes a verified, parsed webhook event to its handler after
// reserving the event ID in the idempotency store.
type Dispatcher struct {
	store     Store
	inventory Inventory
	notifier  Notifier
	filter    DuplicateFilter
	logger    *zap.Logger
	handlers  map[string]handlerFunc
}

// NewDispatcher creates a new dispatcher. filter may be nil.
func NewDispatcher(store Store, inventory Inventory, notifier Notifier, filter DuplicateFilter, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = util.GetLogger()
	}
	d := &Dispatcher{
		store:     store,
		inventory: inventory,
		notifier:  notifier,
		filter:    filter,
		logger:    logger,
	}
	d.handlers = map[string]handlerFunc{
		provider.TypeCheckoutSessionCompleted: d.handleCheckoutCompleted,
		provider.TypePaymentIntentSucceeded:   d.handlePaymentSucceeded,
		provider.TypePaymentIntentFailed:      d.handlePaymentFailure,
		provider.TypePaymentIntentCanceled:    d.handlePaymentFailure,
		provider.TypeChargeRefunded:           d.handleChargeRefunded,
		provider.TypeRefundUpdated:            d.handleRefundObject,
		provider.TypeRefundSucceeded:          d.handleRefundObject,
		provider.TypeDisputeCreated:           d.handleDispute,
		provider.TypeDisputeUpdated:           d.handleDispute,
	}
	return d
}

// Process applies one event at most once. Handler errors are recorded on
// the idempotency row and surfaced as a successful receipt so the
// provider does not retry-storm; escalation happens through inbox_items,
// which every hard-error path writes before returning.
//
// The returned error is non-nil only when the idempotency reservation
// itself could not be written. That case predates any event-specific
// logic and must become a 5xx so the provider redelivers.
func (d *Dispatcher) Process(ctx context.Context, ev *provider.Event, payload []byte) (Result, error) {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Process")
	defer span.End()

	if d.filter != nil {
		if seen, err := d.filter.EventSeen(ctx, ev.ID); err == nil && seen {
			util.WebhookDuplicatesTotal.Inc()
			util.WebhookEventsTotal.WithLabelValues(ev.Type, "duplicate").Inc()
			return duplicate(), nil
		}
	}

	fresh, err := d.store.ReserveEvent(ctx, ev.ID, ev.Type, payload)
	if err != nil {
		return Result{}, err
	}
	if !fresh {
		d.logger.Info("duplicate webhook event short-circuited",
			zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
		util.WebhookDuplicatesTotal.Inc()
		util.WebhookEventsTotal.WithLabelValues(ev.Type, "duplicate").Inc()
		return duplicate(), nil
	}

	handler, known := d.handlers[ev.Type]
	if !known {
		// Deliberate no-op: new provider event types must not break the
		// endpoint.
		d.logger.Info("unhandled webhook event type",
			zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
		d.finalize(ctx, ev.ID)
		util.WebhookEventsTotal.WithLabelValues(ev.Type, "unhandled").Inc()
		return received(), nil
	}

	res, err := handler(ctx, ev)
	if err != nil {
		d.logger.Error("webhook handler failed",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
		if markErr := d.store.MarkEventFailed(ctx, ev.ID, err.Error()); markErr != nil {
			d.logger.Error("failed to record handler failure",
				zap.String("event_id", ev.ID), zap.Error(markErr))
		}
		util.WebhookEventsTotal.WithLabelValues(ev.Type, "failed").Inc()
		return received(), nil
	}

	d.finalize(ctx, ev.ID)
	outcome := "processed"
	switch {
	case res.Duplicate:
		outcome = "duplicate"
	case res.Ignored:
		outcome = "ignored"
	}
	util.WebhookEventsTotal.WithLabelValues(ev.Type, outcome).Inc()
	return res, nil
}

// finalize marks the idempotency record processed and feeds the fast-path
// filter. Both are best-effort; the row insert already happened.
func (d *Dispatcher) finalize(ctx context.Context, eventID string) {
	if err := d.store.MarkEventProcessed(ctx, eventID); err != nil {
		d.logger.Error("failed to mark event processed",
			zap.String("event_id", eventID), zap.Error(err))
	}
	if d.filter != nil {
		if _, err := d.filter.MarkEventSeen(ctx, eventID, seenEventTTL); err != nil {
			d.logger.Warn("failed to mark event seen in fast path",
				zap.String("event_id", eventID), zap.Error(err))
		}
	}
}

// alert writes an operator inbox item; a failed write is logged but never
// masks the condition being alerted on.
func (d *Dispatcher) alert(ctx context.Context, title string, body any, severity, kind string) {
	util.InboxAlertsTotal.WithLabelValues(severity).Inc()
	if err := d.store.CreateInboxItem(ctx, title, body, severity, kind); err != nil {
		d.logger.Error("failed to create inbox item",
			zap.String("title", title), zap.Error(err))
	}
}
