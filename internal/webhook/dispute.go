package webhook

import (
	"context"
	"fmt"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/provider"

	"go.uber.org/zap"
)

// handleDispute is alert-only: there is no disputed order status, so the
// order row is deliberately left untouched. The full dispute payload goes
// to the audit trail and a critical inbox item names the order when one
// resolves, else the charge.
func (d *Dispatcher) handleDispute(ctx context.Context, ev *provider.Event) (Result, error) {
	dispute := ev.Dispute

	var orderID int64
	if payment, err := d.store.FindPaymentForRefund(ctx, dispute.PaymentIntent, 0); err != nil {
		d.logger.Warn("failed to resolve order for dispute",
			zap.String("dispute_id", dispute.ID), zap.Error(err))
	} else if payment != nil && payment.OrderID.Valid {
		orderID = payment.OrderID.Int64
	}

	audit := &models.AuditEvent{Kind: "dispute", Payload: ev.Raw}
	if orderID > 0 {
		audit.OrderID = nullInt64(orderID)
	}
	if err := d.store.InsertAuditEvent(ctx, audit); err != nil {
		return Result{}, fmt.Errorf("failed to record dispute audit %s: %w", dispute.ID, err)
	}

	subject := fmt.Sprintf("charge %s", dispute.Charge)
	if orderID > 0 {
		subject = fmt.Sprintf("order %d", orderID)
	}

	var title string
	if ev.Type == provider.TypeDisputeUpdated {
		title = fmt.Sprintf("Chargeback updated (%s) for %s", dispute.Status, subject)
	} else {
		title = fmt.Sprintf("Chargeback opened for %s", subject)
	}

	d.alert(ctx, title,
		map[string]any{
			"dispute_id": dispute.ID,
			"charge":     dispute.Charge,
			"order_id":   orderID,
			"amount":     dispute.Amount,
			"reason":     dispute.Reason,
			"status":     dispute.Status,
			"event_id":   ev.ID,
		},
		models.SeverityCritical, models.InboxKindChargeback)

	d.logger.Info("dispute recorded",
		zap.String("dispute_id", dispute.ID),
		zap.Int64("order_id", orderID),
		zap.String("status", dispute.Status))

	return received(), nil
}
