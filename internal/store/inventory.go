package store

import (
	"context"
	"encoding/json"

	"payment-reconciler/internal/models"
)

// OnHand derives the on-hand quantity for a variant: the running sum of
// all movement deltas. Never stored directly.
func (s *Store) OnHand(ctx context.Context, variantID int64) (int, error) {
	var onHand int
	err := s.db.GetContext(ctx, &onHand,
		"SELECT COALESCE(SUM(delta), 0) FROM inventory_movements WHERE variant_id = $1", variantID)
	return onHand, err
}

// insertReservationQuery reserves stock with the availability check inside
// the same statement. Precondition re-validated at write time: on-hand for
// the variant covers the requested quantity. Zero rows affected means
// insufficient stock (another reservation may have won the race).
const insertReservationQuery = `
	INSERT INTO inventory_movements (variant_id, delta, kind, metadata)
	SELECT $1, -$2, 'reservation', $3
	WHERE COALESCE((SELECT SUM(delta) FROM inventory_movements WHERE variant_id = $1), 0) >= $2`

// InsertReservation atomically reserves quantity units of a variant for an
// order. Returns false when stock did not cover the request.
func (s *Store) InsertReservation(ctx context.Context, variantID int64, quantity int, orderID int64, reservationID string) (bool, error) {
	meta, err := json.Marshal(models.MovementMetadata{OrderID: orderID, ReservationID: reservationID})
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, insertReservationQuery, variantID, quantity, meta)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// releaseByOrderQuery rewrites outstanding reservation rows into zero-delta
// released markers, restoring on-hand under the SUM(delta) derivation.
// Idempotent: rows already released no longer match.
const releaseByOrderQuery = `
	UPDATE inventory_movements
	SET kind = 'released', delta = 0
	WHERE kind = 'reservation' AND (metadata->>'order_id')::bigint = $1`

// ReleaseReservationByOrder releases every outstanding reservation row
// tagged with the order. Returns the number of rows released.
func (s *Store) ReleaseReservationByOrder(ctx context.Context, orderID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, releaseByOrderQuery, orderID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ReleaseReservationByID releases by reservation ID, for callers that
// compensate a partially-applied reservation attempt.
func (s *Store) ReleaseReservationByID(ctx context.Context, reservationID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_movements
		SET kind = 'released', delta = 0
		WHERE kind = 'reservation' AND metadata->>'reservation_id' = $1`,
		reservationID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ConsumeReservationByOrder converts an order's reservation rows into
// permanent sales. No stock change, only the kind tag flips; the negative
// delta written at reservation time stays. Returns how many rows were
// converted so callers can fall back to direct deduction when zero.
func (s *Store) ConsumeReservationByOrder(ctx context.Context, orderID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_movements
		SET kind = 'sale'
		WHERE kind = 'reservation' AND (metadata->>'order_id')::bigint = $1`,
		orderID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// InsertSale writes a direct, non-reservation decrement. Used only for
// legacy orders that predate the reservation flow.
func (s *Store) InsertSale(ctx context.Context, variantID int64, quantity int, orderID int64) error {
	meta, err := json.Marshal(models.MovementMetadata{OrderID: orderID})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inventory_movements (variant_id, delta, kind, metadata)
		VALUES ($1, -$2, 'sale', $3)`,
		variantID, quantity, meta)
	return err
}
