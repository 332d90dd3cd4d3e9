package models

// OrderFinancials is the input to the status derivation: the current
// status plus the money fields it depends on.
type OrderFinancials struct {
	Status         string
	TotalNet       int64
	RefundedAmount int64
}

// CalculateOrderStatus derives the canonical order status from the current
// status and cumulative refunded amount. Pure function: pending always
// dominates because a pending order cannot have been refunded; any refund
// fields present on it are stale.
func CalculateOrderStatus(o OrderFinancials) string {
	if o.Status == OrderStatusPending {
		return OrderStatusPending
	}
	if o.RefundedAmount <= 0 {
		return OrderStatusPaid
	}
	if o.RefundedAmount >= o.TotalNet {
		return OrderStatusRefunded
	}
	return OrderStatusPartiallyRefunded
}

// StatusChangeReason maps a target status to the audit-trail reason tag.
// Readability only; no control-flow effect.
func StatusChangeReason(status string) string {
	switch status {
	case OrderStatusPaid:
		return ReasonPaymentSucceeded
	case OrderStatusPartiallyRefunded:
		return ReasonRefundPartial
	case OrderStatusRefunded:
		return ReasonRefundFull
	default:
		return ReasonUnknown
	}
}
