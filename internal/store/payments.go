package store

import (
	"context"
	"database/sql"

	"payment-reconciler/internal/models"
)

// InsertPayment creates the payment row for a provider payment ID. A
// unique violation on provider_payment_id is returned as ErrDuplicate:
// the row already exists and the caller is processing a redelivery.
func (s *Store) InsertPayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, currency, method, provider_payment_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.Amount, payment.Currency, payment.Method, payment.ProviderPaymentID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// InsertRefund creates the refund row for a provider refund ID; same
// idempotency pattern as InsertPayment.
func (s *Store) InsertRefund(ctx context.Context, refund *models.Refund) error {
	query := `
		INSERT INTO refunds (payment_id, provider_refund_id, amount, currency)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, refund, query,
		refund.PaymentID, refund.ProviderRefundID, refund.Amount, refund.Currency)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// RefundExists reports whether a row already exists for the provider
// refund ID, the cheap pre-check before the authoritative insert.
func (s *Store) RefundExists(ctx context.Context, providerRefundID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM refunds WHERE provider_refund_id = $1)", providerRefundID)
	return exists, err
}

// FindPaymentForRefund resolves the owning payment by provider payment
// intent ID first, then by order ID. Returns nil without error when
// neither resolves; the refund handlers decide what that means.
func (s *Store) FindPaymentForRefund(ctx context.Context, paymentIntentID string, orderID int64) (*models.Payment, error) {
	var payment models.Payment

	if paymentIntentID != "" {
		err := s.db.GetContext(ctx, &payment,
			"SELECT * FROM payments WHERE provider_payment_id = $1 ORDER BY created_at DESC LIMIT 1",
			paymentIntentID)
		if err == nil {
			return &payment, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	}

	if orderID > 0 {
		err := s.db.GetContext(ctx, &payment,
			"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1",
			orderID)
		if err == nil {
			return &payment, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	}

	return nil, nil
}
