package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateOrderStatus(t *testing.T) {
	tests := []struct {
		name     string
		in       OrderFinancials
		expected string
	}{
		{
			name:     "pending dominates regardless of refund fields",
			in:       OrderFinancials{Status: OrderStatusPending, TotalNet: 1000, RefundedAmount: 1000},
			expected: OrderStatusPending,
		},
		{
			name:     "pending with no refunds",
			in:       OrderFinancials{Status: OrderStatusPending, TotalNet: 1000},
			expected: OrderStatusPending,
		},
		{
			name:     "paid with zero refunded",
			in:       OrderFinancials{Status: OrderStatusPaid, TotalNet: 1000, RefundedAmount: 0},
			expected: OrderStatusPaid,
		},
		{
			name:     "paid with negative refunded",
			in:       OrderFinancials{Status: OrderStatusPaid, TotalNet: 1000, RefundedAmount: -50},
			expected: OrderStatusPaid,
		},
		{
			name:     "partial refund",
			in:       OrderFinancials{Status: OrderStatusPaid, TotalNet: 10000, RefundedAmount: 3000},
			expected: OrderStatusPartiallyRefunded,
		},
		{
			name:     "full refund",
			in:       OrderFinancials{Status: OrderStatusPaid, TotalNet: 3000, RefundedAmount: 3000},
			expected: OrderStatusRefunded,
		},
		{
			name:     "refunded above total still refunded",
			in:       OrderFinancials{Status: OrderStatusPartiallyRefunded, TotalNet: 3000, RefundedAmount: 4000},
			expected: OrderStatusRefunded,
		},
		{
			name:     "partially refunded stays partial",
			in:       OrderFinancials{Status: OrderStatusPartiallyRefunded, TotalNet: 10000, RefundedAmount: 9999},
			expected: OrderStatusPartiallyRefunded,
		},
		{
			name:     "payment_failed with no refunds derives paid",
			in:       OrderFinancials{Status: OrderStatusPaymentFailed, TotalNet: 1000},
			expected: OrderStatusPaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateOrderStatus(tt.in))
		})
	}
}

func TestCalculateOrderStatusIsPure(t *testing.T) {
	in := OrderFinancials{Status: OrderStatusPaid, TotalNet: 5000, RefundedAmount: 2500}
	first := CalculateOrderStatus(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CalculateOrderStatus(in))
	}
	assert.Equal(t, OrderFinancials{Status: OrderStatusPaid, TotalNet: 5000, RefundedAmount: 2500}, in)
}

func TestStatusChangeReason(t *testing.T) {
	assert.Equal(t, ReasonPaymentSucceeded, StatusChangeReason(OrderStatusPaid))
	assert.Equal(t, ReasonRefundPartial, StatusChangeReason(OrderStatusPartiallyRefunded))
	assert.Equal(t, ReasonRefundFull, StatusChangeReason(OrderStatusRefunded))
	assert.Equal(t, ReasonUnknown, StatusChangeReason(OrderStatusPending))
	assert.Equal(t, ReasonUnknown, StatusChangeReason("garbage"))
}
