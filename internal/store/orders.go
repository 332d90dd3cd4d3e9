package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"payment-reconciler/internal/models"
)

// GetOrderByID retrieves an order by ID.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// markOrderPaidQuery writes the provider identifiers first-writer-wins and
// stamps paid_at only once. Precondition: none; safe to re-run for the same
// order. Postcondition: session/intent IDs and paid_at keep their first
// value, updated_at is refreshed, status untouched.
const markOrderPaidQuery = `
	UPDATE orders SET
		provider_checkout_session_id = COALESCE(provider_checkout_session_id, $2),
		provider_payment_intent_id   = COALESCE(provider_payment_intent_id, $3),
		paid_at                      = COALESCE(paid_at, NOW()),
		updated_at                   = NOW()
	WHERE id = $1`

// MarkOrderPaid applies the non-destructive paid-state field update. The
// status transition itself goes through TransitionOrderStatus so the
// history row is only written by the writer that won the transition.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID int64, checkoutSessionID, paymentIntentID string) error {
	_, err := s.db.ExecContext(ctx, markOrderPaidQuery, orderID,
		nullIfEmpty(checkoutSessionID), nullIfEmpty(paymentIntentID))
	return err
}

// applyRefundQuery is the optimistic-concurrency guard for refunds.
// Precondition re-validated at write time: the order is still refundable
// and the projected total does not exceed total_net. Zero rows affected
// means another writer consumed the refund budget first.
const applyRefundQuery = `
	UPDATE orders SET
		refunded_amount = refunded_amount + $2,
		refund_count    = refund_count + 1,
		updated_at      = NOW()
	WHERE id = $1
	  AND status IN ('paid', 'partially_refunded')
	  AND refunded_amount + $2 <= total_net`

// ApplyRefund adds amount to the order's refunded total under the guard.
// Returns false when the conditional update affected no rows.
func (s *Store) ApplyRefund(ctx context.Context, orderID, amount int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, applyRefundQuery, orderID, amount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TransitionOrderStatus moves an order from a known status to a new one and
// appends the history row, but only if the order is still in the expected
// status at write time. Returns whether this caller won the transition.
func (s *Store) TransitionOrderStatus(ctx context.Context, orderID int64, from, to, reason, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2",
		orderID, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, old_status, new_status, reason, stripe_event_id)
		VALUES ($1, $2, $3, $4, $5)`,
		orderID, from, to, reason, eventID)
	return true, err
}

// MergeOrderShipping merges the captured address into the order's JSON
// metadata under the shipping key. Best-effort by contract; callers ignore
// the error beyond logging it.
func (s *Store) MergeOrderShipping(ctx context.Context, orderID int64, name string, addr any) error {
	shipping, err := json.Marshal(map[string]any{"name": name, "address": addr})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE orders SET
			metadata   = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{shipping}', $2::jsonb),
			updated_at = NOW()
		WHERE id = $1`,
		orderID, shipping)
	return err
}

// GetOrderItems retrieves line items, used for the legacy direct-deduction
// fallback.
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// GetOrderStatusHistory returns the audit trail for an order, newest first.
func (s *Store) GetOrderStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	err := s.db.SelectContext(ctx, &history,
		"SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY created_at DESC", orderID)
	return history, err
}

// EnsureFulfillment creates the fulfillment row for an order once;
// subsequent calls are a no-op.
func (s *Store) EnsureFulfillment(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fulfillments (order_id, status)
		VALUES ($1, 'pending')
		ON CONFLICT (order_id) DO NOTHING`,
		orderID)
	return err
}

// RecordCouponUsage increments the coupon's usage counter and appends the
// usage row. Called only after a first-time (non-duplicate) payment insert.
func (s *Store) RecordCouponUsage(ctx context.Context, couponID, orderID, discountAmount int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1",
		couponID); err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coupon_usages (coupon_id, order_id, discount_amount)
		VALUES ($1, $2, $3)`,
		couponID, orderID, discountAmount); err != nil {
		return fmt.Errorf("failed to insert coupon usage: %w", err)
	}

	return tx.Commit()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
