package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/provider"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/util"

	"go.uber.org/zap"
)

// paymentSuccess is the normalized input shared by the checkout-session
// and payment-intent success handlers.
type paymentSuccess struct {
	amount            int64
	currency          string
	paymentIntentID   string
	checkoutSessionID string
	metadata          map[string]string
	shippingName      string
	shippingAddr      *provider.Address
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, ev *provider.Event) (Result, error) {
	cs := ev.CheckoutSession

	orderID, ok := provider.OrderIDFromMetadata(cs.Metadata)
	if !ok {
		return ignored(), nil
	}

	order, err := d.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		// Webhooks never fabricate orders.
		return ignored(), nil
	}
	if err != nil {
		return Result{}, err
	}

	addr, name := cs.ShippingAddress()
	res, err := d.applyPaymentSuccess(ctx, ev, order, paymentSuccess{
		amount:            cs.AmountTotal,
		currency:          cs.Currency,
		paymentIntentID:   cs.PaymentIntent,
		checkoutSessionID: cs.ID,
		metadata:          cs.Metadata,
		shippingName:      name,
		shippingAddr:      addr,
	})
	if err != nil {
		return Result{}, err
	}

	// Checkout-specific: the fulfillment row exists exactly once.
	if err := d.store.EnsureFulfillment(ctx, order.ID); err != nil {
		return Result{}, fmt.Errorf("failed to ensure fulfillment for order %d: %w", order.ID, err)
	}

	return res, nil
}

func (d *Dispatcher) handlePaymentSucceeded(ctx context.Context, ev *provider.Event) (Result, error) {
	pi := ev.PaymentIntent

	orderID, ok := provider.OrderIDFromMetadata(pi.Metadata)
	if !ok {
		return ignored(), nil
	}

	order, err := d.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return ignored(), nil
	}
	if err != nil {
		return Result{}, err
	}

	addr, name := pi.BillingAddress()
	return d.applyPaymentSuccess(ctx, ev, order, paymentSuccess{
		amount:          pi.AmountReceived,
		currency:        pi.Currency,
		paymentIntentID: pi.ID,
		metadata:        pi.Metadata,
		shippingName:    name,
		shippingAddr:    addr,
	})
}

// applyPaymentSuccess performs the shared paid transition. Every write is
// individually idempotent, so the sequence survives redelivery even
// without the outer event-ID reservation.
func (d *Dispatcher) applyPaymentSuccess(ctx context.Context, ev *provider.Event, order *models.Order, ps paymentSuccess) (Result, error) {
	if order.Status == models.OrderStatusPending {
		if _, err := d.store.TransitionOrderStatus(ctx, order.ID,
			models.OrderStatusPending, models.OrderStatusPaid,
			models.ReasonPaymentSucceeded, ev.ID); err != nil {
			return Result{}, fmt.Errorf("failed to transition order %d to paid: %w", order.ID, err)
		}
	}

	if err := d.store.MarkOrderPaid(ctx, order.ID, ps.checkoutSessionID, ps.paymentIntentID); err != nil {
		return Result{}, fmt.Errorf("failed to mark order %d paid: %w", order.ID, err)
	}

	// Opportunistic address capture; never blocks.
	if ps.shippingAddr != nil {
		if err := d.store.MergeOrderShipping(ctx, order.ID, ps.shippingName, ps.shippingAddr); err != nil {
			d.logger.Warn("failed to merge shipping address",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	providerPaymentID := ps.paymentIntentID
	if providerPaymentID == "" {
		providerPaymentID = ps.checkoutSessionID
	}

	payment := &models.Payment{
		OrderID:           nullInt64(order.ID),
		Amount:            ps.amount,
		Currency:          ps.currency,
		Method:            "card",
		ProviderPaymentID: providerPaymentID,
	}
	err := d.store.InsertPayment(ctx, payment)
	if errors.Is(err, store.ErrDuplicate) {
		return duplicate(), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to insert payment for order %d: %w", order.ID, err)
	}
	util.PaymentsRecordedTotal.Inc()

	// Coupon usage is recorded at most once because it only runs after a
	// first-time payment insert.
	if err := d.recordCouponUsage(ctx, order.ID, ps.metadata); err != nil {
		return Result{}, err
	}

	d.settleInventory(ctx, order.ID)

	if err := d.notifier.PublishConfirmationRequested(ctx, order.ID); err != nil {
		d.logger.Error("failed to publish confirmation request",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	d.logger.Info("payment recorded",
		zap.Int64("order_id", order.ID),
		zap.String("provider_payment_id", providerPaymentID),
		zap.Int64("amount", ps.amount))

	return received(), nil
}

// settleInventory converts the order's reservation into a sale, falling
// back to direct deduction for orders that predate reservations. Failures
// are alerted and logged, never returned: the payment is already recorded
// and the provider must not redeliver.
func (d *Dispatcher) settleInventory(ctx context.Context, orderID int64) {
	consumed, err := d.inventory.ConsumeStockReservationForOrder(ctx, orderID)
	if err != nil {
		d.logger.Error("failed to consume stock reservation",
			zap.Int64("order_id", orderID), zap.Error(err))
		d.alert(ctx, fmt.Sprintf("Stock reservation consume failed for order %d", orderID),
			map[string]any{"order_id": orderID, "error": err.Error()},
			models.SeverityCritical, models.InboxKindInventoryCleanup)
		return
	}
	if consumed {
		return
	}

	// Legacy order without a reservation: deduct from line items.
	items, err := d.store.GetOrderItems(ctx, orderID)
	if err == nil && len(items) > 0 {
		err = d.inventory.DeductStockForOrder(ctx, orderID, items)
	}
	if err != nil {
		d.logger.Error("legacy stock deduction failed",
			zap.Int64("order_id", orderID), zap.Error(err))
		d.alert(ctx, fmt.Sprintf("Legacy stock deduction failed for order %d", orderID),
			map[string]any{"order_id": orderID, "error": err.Error()},
			models.SeverityCritical, models.InboxKindInventoryCleanup)
	}
}

// recordCouponUsage runs the single usage-increment call when the
// metadata carries both a coupon ID and a discount amount.
func (d *Dispatcher) recordCouponUsage(ctx context.Context, orderID int64, metadata map[string]string) error {
	couponRaw := firstNonEmpty(metadata, "couponId", "coupon_id")
	discountRaw := firstNonEmpty(metadata, "discountAmount", "discount_amount")
	if couponRaw == "" || discountRaw == "" {
		return nil
	}

	couponID, err1 := strconv.ParseInt(couponRaw, 10, 64)
	discount, err2 := strconv.ParseInt(discountRaw, 10, 64)
	if err1 != nil || err2 != nil {
		d.logger.Warn("unparseable coupon metadata",
			zap.Int64("order_id", orderID),
			zap.String("coupon", couponRaw),
			zap.String("discount", discountRaw))
		return nil
	}

	if err := d.store.RecordCouponUsage(ctx, couponID, orderID, discount); err != nil {
		return fmt.Errorf("failed to record coupon usage for order %d: %w", orderID, err)
	}
	return nil
}

func firstNonEmpty(metadata map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := metadata[key]; v != "" {
			return v
		}
	}
	return ""
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
