package service

import (
	"context"

	"go.uber.org/zap"
)

// Mailer is the boundary to the email system. Implementations must be
// safe to call from the notification worker; errors are logged there and
// never fed back into webhook processing.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, orderID int64) error
}

// LogMailer is the default Mailer: it records the send instead of
// delivering. Real delivery lives outside this service.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendOrderConfirmation(ctx context.Context, orderID int64) error {
	m.logger.Info("order confirmation email requested", zap.Int64("order_id", orderID))
	return nil
}
