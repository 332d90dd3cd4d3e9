package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/provider"
	"payment-reconciler/internal/store"

	"go.uber.org/zap"
)

// handlePaymentFailure covers payment_intent.payment_failed and
// payment_intent.canceled. The reservation release and the operator alert
// always run, even when the order already left pending through a race, so
// operators hear about failures on orders that moved on.
func (d *Dispatcher) handlePaymentFailure(ctx context.Context, ev *provider.Event) (Result, error) {
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

	// Best-effort: a release failure is alerted, never aborts the handler.
	if _, err := d.inventory.ReleaseStockReservationForOrder(ctx, order.ID); err != nil {
		d.logger.Error("failed to release stock reservation",
			zap.Int64("order_id", order.ID), zap.Error(err))
		d.alert(ctx, fmt.Sprintf("Stock reservation release failed for order %d", order.ID),
			map[string]any{"order_id": order.ID, "error": err.Error(), "event_id": ev.ID},
			models.SeverityCritical, models.InboxKindInventoryCleanup)
	}

	reason := failureReason(ev.Type, pi)

	// No-op if the order already moved past pending.
	transitioned, err := d.store.TransitionOrderStatus(ctx, order.ID,
		models.OrderStatusPending, models.OrderStatusPaymentFailed,
		models.ReasonPaymentFailed, ev.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to transition order %d: %w", order.ID, err)
	}

	payload, _ := json.Marshal(map[string]any{
		"event_id":      ev.ID,
		"event_type":    ev.Type,
		"reason":        reason,
		"transitioned":  transitioned,
		"payment_error": pi.LastPaymentError,
	})
	if err := d.store.InsertAuditEvent(ctx, &models.AuditEvent{
		Kind:    "payment_failure",
		OrderID: nullInt64(order.ID),
		Payload: payload,
	}); err != nil {
		return Result{}, fmt.Errorf("failed to record payment failure audit for order %d: %w", order.ID, err)
	}

	d.alert(ctx, fmt.Sprintf("Payment failed for order %d", order.ID),
		map[string]any{
			"order_id":     order.ID,
			"reason":       reason,
			"event_id":     ev.ID,
			"transitioned": transitioned,
		},
		models.SeverityHigh, models.InboxKindPaymentFailed)

	if err := d.notifier.PublishPaymentFailed(ctx, order.ID, reason); err != nil {
		d.logger.Error("failed to publish payment failure notification",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	d.logger.Info("payment failure handled",
		zap.Int64("order_id", order.ID),
		zap.String("reason", reason),
		zap.Bool("transitioned", transitioned))

	return received(), nil
}

func failureReason(eventType string, pi *provider.PaymentIntent) string {
	if eventType == provider.TypePaymentIntentCanceled {
		if pi.CancellationReason != "" {
			return pi.CancellationReason
		}
		return "canceled"
	}
	if pi.LastPaymentError != nil {
		if pi.LastPaymentError.DeclineCode != "" {
			return pi.LastPaymentError.DeclineCode
		}
		if pi.LastPaymentError.Code != "" {
			return pi.LastPaymentError.Code
		}
		if pi.LastPaymentError.Message != "" {
			return pi.LastPaymentError.Message
		}
	}
	return "payment_failed"
}
