package store

import (
	"context"
	"encoding/json"

	"payment-reconciler/internal/models"
)

// ReserveEvent inserts the idempotency record for a provider event before
// any handler runs. Returns fresh=false when the event ID was already
// seen; the dispatcher must then short-circuit with a duplicate result.
func (s *Store) ReserveEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload_json, processing_status)
		VALUES ($1, $2, $3, 'processing')
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, payload)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventProcessed finalizes the idempotency record after a handler
// completed.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET processing_status = 'processed', processed_at = NOW()
		WHERE event_id = $1`,
		eventID)
	return err
}

// MarkEventFailed records the handler error on the idempotency record. The
// HTTP response stays a success regardless; retries are driven by the
// reconciliation sweep, not by provider redelivery.
func (s *Store) MarkEventFailed(ctx context.Context, eventID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET processing_status = 'failed', error = $2, processed_at = NOW()
		WHERE event_id = $1`,
		eventID, errMsg)
	return err
}

// InsertAuditEvent appends a row to the events table (decline codes,
// cancellation reasons, dispute payloads).
func (s *Store) InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (kind, order_id, payload)
		VALUES ($1, $2, $3)`,
		event.Kind, event.OrderID, event.Payload)
	return err
}

// CreateInboxItem appends an operator alert. Write-only from this service.
func (s *Store) CreateInboxItem(ctx context.Context, title string, body any, severity, kind string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inbox_items (title, body, severity, status, kind)
		VALUES ($1, $2, $3, 'open', $4)`,
		title, payload, severity, kind)
	return err
}
