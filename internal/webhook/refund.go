package webhook

import (
	"context"
	"errors"
	"fmt"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/provider"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/util"

	"go.uber.org/zap"
)

func (d *Dispatcher) handleChargeRefunded(ctx context.Context, ev *provider.Event) (Result, error) {
	charge := ev.Charge
	return d.processRefunds(ctx, ev, charge.Refunds.Data, charge.Metadata)
}

func (d *Dispatcher) handleRefundObject(ctx context.Context, ev *provider.Event) (Result, error) {
	return d.processRefunds(ctx, ev, []provider.RefundObject{*ev.Refund}, ev.Refund.Metadata)
}

// processRefunds applies each refund object in the event independently.
// Already-seen refunds short-circuit per object, so an event carrying one
// new and one seen refund applies exactly the new one; refund_count stays
// in step because it increments inside the same guarded UPDATE that adds
// the amount.
func (d *Dispatcher) processRefunds(ctx context.Context, ev *provider.Event, refunds []provider.RefundObject, fallbackMeta map[string]string) (Result, error) {
	var applied, duplicates int

	for _, refund := range refunds {
		outcome, err := d.applyRefund(ctx, ev, refund, fallbackMeta)
		if err != nil {
			return Result{}, err
		}
		switch outcome {
		case refundApplied:
			applied++
		case refundDuplicate:
			duplicates++
		}
	}

	if applied == 0 && duplicates > 0 {
		return duplicate(), nil
	}
	if applied == 0 {
		return ignored(), nil
	}
	return received(), nil
}

type refundOutcome int

const (
	refundApplied refundOutcome = iota
	refundDuplicate
	refundSkipped
)

// applyRefund records a single provider refund and updates the owning
// order under the optimistic-concurrency guard.
func (d *Dispatcher) applyRefund(ctx context.Context, ev *provider.Event, refund provider.RefundObject, fallbackMeta map[string]string) (refundOutcome, error) {
	seen, err := d.store.RefundExists(ctx, refund.ID)
	if err != nil {
		return refundSkipped, fmt.Errorf("failed to check refund %s: %w", refund.ID, err)
	}
	if seen {
		return refundDuplicate, nil
	}

	// Resolve the owning payment by intent ID first, then by the order
	// referenced in metadata.
	metaOrderID, _ := provider.OrderIDFromMetadata(refund.Metadata)
	if metaOrderID == 0 {
		metaOrderID, _ = provider.OrderIDFromMetadata(fallbackMeta)
	}
	payment, err := d.store.FindPaymentForRefund(ctx, refund.PaymentIntent, metaOrderID)
	if err != nil {
		return refundSkipped, fmt.Errorf("failed to resolve payment for refund %s: %w", refund.ID, err)
	}

	orderID := metaOrderID
	row := &models.Refund{
		ProviderRefundID: refund.ID,
		Amount:           refund.Amount,
		Currency:         refund.Currency,
	}
	if payment != nil {
		row.PaymentID = nullInt64(payment.ID)
		if payment.OrderID.Valid {
			orderID = payment.OrderID.Int64
		}
	}

	err = d.store.InsertRefund(ctx, row)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the insert race to a concurrent delivery; same thing as
		// the pre-check firing.
		return refundDuplicate, nil
	}
	if err != nil {
		return refundSkipped, fmt.Errorf("failed to insert refund %s: %w", refund.ID, err)
	}
	util.RefundsRecordedTotal.Inc()

	if orderID == 0 {
		// Refund recorded but no resolvable order; nothing to update.
		d.logger.Warn("refund without resolvable order",
			zap.String("provider_refund_id", refund.ID))
		return refundApplied, nil
	}

	order, err := d.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Warn("refund references missing order",
			zap.String("provider_refund_id", refund.ID), zap.Int64("order_id", orderID))
		return refundApplied, nil
	}
	if err != nil {
		return refundSkipped, err
	}

	// Only paid and partially_refunded orders are eligible; anything else
	// is silently ignored.
	if order.Status != models.OrderStatusPaid && order.Status != models.OrderStatusPartiallyRefunded {
		return refundSkipped, nil
	}

	projected := order.RefundedAmount + refund.Amount
	if projected > order.TotalNet {
		util.RefundsRejectedTotal.WithLabelValues("exceeds_total").Inc()
		d.alert(ctx, fmt.Sprintf("Refund would exceed total for order %d", order.ID),
			map[string]any{
				"order_id":           order.ID,
				"provider_refund_id": refund.ID,
				"refund_amount":      refund.Amount,
				"refunded_amount":    order.RefundedAmount,
				"total_net":          order.TotalNet,
				"event_id":           ev.ID,
			},
			models.SeverityCritical, models.InboxKindRefundAnomaly)
		return refundSkipped, fmt.Errorf("refund %s on order %d: %w", refund.ID, order.ID, ErrRefundExceedsTotal)
	}

	ok, err := d.store.ApplyRefund(ctx, order.ID, refund.Amount)
	if err != nil {
		return refundSkipped, fmt.Errorf("failed to apply refund %s: %w", refund.ID, err)
	}
	if !ok {
		// The guard re-validated at write time and failed: a concurrent
		// refund consumed the budget between our read and this write.
		util.RefundsRejectedTotal.WithLabelValues("concurrent").Inc()
		d.alert(ctx, fmt.Sprintf("Concurrent refund rejected for order %d", order.ID),
			map[string]any{
				"order_id":           order.ID,
				"provider_refund_id": refund.ID,
				"refund_amount":      refund.Amount,
				"event_id":           ev.ID,
			},
			models.SeverityCritical, models.InboxKindRefundAnomaly)
		return refundSkipped, fmt.Errorf("refund %s on order %d: %w", refund.ID, order.ID, ErrConcurrentRefund)
	}

	target := models.CalculateOrderStatus(models.OrderFinancials{
		Status:         order.Status,
		TotalNet:       order.TotalNet,
		RefundedAmount: projected,
	})
	if target != order.Status {
		if _, err := d.store.TransitionOrderStatus(ctx, order.ID, order.Status, target,
			models.StatusChangeReason(target), ev.ID); err != nil {
			return refundSkipped, fmt.Errorf("failed to transition order %d after refund: %w", order.ID, err)
		}
	}

	if err := d.notifier.PublishOrderRefunded(ctx, order.ID, refund.Amount, projected, target); err != nil {
		d.logger.Error("failed to publish refund notification",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	d.logger.Info("refund recorded",
		zap.Int64("order_id", order.ID),
		zap.String("provider_refund_id", refund.ID),
		zap.Int64("amount", refund.Amount),
		zap.String("status", target))

	return refundApplied, nil
}
