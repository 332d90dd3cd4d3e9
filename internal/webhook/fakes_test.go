package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
)

// memStore mirrors the conditional-update semantics of the SQL store so
// handler tests exercise the same guards the database enforces.
type memStore struct {
	mu sync.Mutex

	events       map[string]*models.WebhookEvent
	orders       map[int64]*models.Order
	orderItems   map[int64][]models.OrderItem
	payments     []*models.Payment
	refunds      []*models.Refund
	history      []models.OrderStatusHistory
	inbox        []models.InboxItem
	audit        []models.AuditEvent
	fulfillments map[int64]int
	couponCounts map[int64]int
	couponUsages []models.CouponUsage
	nextID       int64

	// beforeApplyRefund simulates a concurrent writer landing between the
	// handler's read and the guarded update.
	beforeApplyRefund func()
}

func newMemStore() *memStore {
	return &memStore{
		events:       make(map[string]*models.WebhookEvent),
		orders:       make(map[int64]*models.Order),
		orderItems:   make(map[int64][]models.OrderItem),
		fulfillments: make(map[int64]int),
		couponCounts: make(map[int64]int),
	}
}

func (m *memStore) addOrder(o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = &o
}

func (m *memStore) addPayment(p models.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.payments = append(m.payments, &p)
}

func (m *memStore) order(id int64) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memStore) ReserveEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[eventID]; exists {
		return false, nil
	}
	m.events[eventID] = &models.WebhookEvent{
		EventID:          eventID,
		EventType:        eventType,
		PayloadJSON:      payload,
		ProcessingStatus: models.ProcessingStatusProcessing,
		ReceivedAt:       time.Now(),
	}
	return true, nil
}

func (m *memStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[eventID]; ok {
		ev.ProcessingStatus = models.ProcessingStatusProcessed
	}
	return nil
}

func (m *memStore) MarkEventFailed(ctx context.Context, eventID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[eventID]; ok {
		ev.ProcessingStatus = models.ProcessingStatusFailed
		ev.Error.String = errMsg
		ev.Error.Valid = true
	}
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	clone := *o
	return &clone, nil
}

func (m *memStore) MarkOrderPaid(ctx context.Context, orderID int64, checkoutSessionID, paymentIntentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	if !o.ProviderCheckoutSessionID.Valid && checkoutSessionID != "" {
		o.ProviderCheckoutSessionID.String = checkoutSessionID
		o.ProviderCheckoutSessionID.Valid = true
	}
	if !o.ProviderPaymentIntentID.Valid && paymentIntentID != "" {
		o.ProviderPaymentIntentID.String = paymentIntentID
		o.ProviderPaymentIntentID.Valid = true
	}
	if !o.PaidAt.Valid {
		o.PaidAt.Time = time.Now()
		o.PaidAt.Valid = true
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) TransitionOrderStatus(ctx context.Context, orderID int64, from, to, reason, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	m.history = append(m.history, models.OrderStatusHistory{
		OrderID:       orderID,
		OldStatus:     from,
		NewStatus:     to,
		Reason:        reason,
		StripeEventID: eventID,
		CreatedAt:     time.Now(),
	})
	return true, nil
}

func (m *memStore) ApplyRefund(ctx context.Context, orderID, amount int64) (bool, error) {
	if m.beforeApplyRefund != nil {
		m.beforeApplyRefund()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	if o.Status != models.OrderStatusPaid && o.Status != models.OrderStatusPartiallyRefunded {
		return false, nil
	}
	if o.RefundedAmount+amount > o.TotalNet {
		return false, nil
	}
	o.RefundedAmount += amount
	o.RefundCount++
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) MergeOrderShipping(ctx context.Context, orderID int64, name string, addr any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	shipping, err := json.Marshal(map[string]any{"shipping": map[string]any{"name": name, "address": addr}})
	if err != nil {
		return err
	}
	o.Metadata = shipping
	return nil
}

func (m *memStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderItems[orderID], nil
}

func (m *memStore) EnsureFulfillment(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.fulfillments[orderID]; !exists {
		m.fulfillments[orderID] = 1
	}
	return nil
}

func (m *memStore) RecordCouponUsage(ctx context.Context, couponID, orderID, discountAmount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.couponCounts[couponID]++
	m.couponUsages = append(m.couponUsages, models.CouponUsage{
		CouponID:       couponID,
		OrderID:        orderID,
		DiscountAmount: discountAmount,
	})
	return nil
}

func (m *memStore) InsertPayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.ProviderPaymentID == payment.ProviderPaymentID {
			return store.ErrDuplicate
		}
	}
	m.nextID++
	payment.ID = m.nextID
	payment.CreatedAt = time.Now()
	clone := *payment
	m.payments = append(m.payments, &clone)
	return nil
}

func (m *memStore) InsertRefund(ctx context.Context, refund *models.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.refunds {
		if existing.ProviderRefundID == refund.ProviderRefundID {
			return store.ErrDuplicate
		}
	}
	m.nextID++
	refund.ID = m.nextID
	refund.CreatedAt = time.Now()
	clone := *refund
	m.refunds = append(m.refunds, &clone)
	return nil
}

func (m *memStore) RefundExists(ctx context.Context, providerRefundID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.refunds {
		if existing.ProviderRefundID == providerRefundID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FindPaymentForRefund(ctx context.Context, paymentIntentID string, orderID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paymentIntentID != "" {
		for _, p := range m.payments {
			if p.ProviderPaymentID == paymentIntentID {
				clone := *p
				return &clone, nil
			}
		}
	}
	if orderID > 0 {
		for _, p := range m.payments {
			if p.OrderID.Valid && p.OrderID.Int64 == orderID {
				clone := *p
				return &clone, nil
			}
		}
	}
	return nil, nil
}

func (m *memStore) InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *event)
	return nil
}

func (m *memStore) CreateInboxItem(ctx context.Context, title string, body any, severity, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	m.inbox = append(m.inbox, models.InboxItem{
		Title:    title,
		Body:     payload,
		Severity: severity,
		Status:   "open",
		Kind:     kind,
	})
	return nil
}

// memInventory tracks reservation lifecycle calls.
type memInventory struct {
	mu sync.Mutex

	hasReservation map[int64]bool
	consumed       map[int64]bool
	released       map[int64]bool
	deducted       map[int64][]models.OrderItem
	releaseCalls   []int64

	consumeErr error
	releaseErr error
	deductErr  error
}

func newMemInventory() *memInventory {
	return &memInventory{
		hasReservation: make(map[int64]bool),
		consumed:       make(map[int64]bool),
		released:       make(map[int64]bool),
		deducted:       make(map[int64][]models.OrderItem),
	}
}

func (m *memInventory) ConsumeStockReservationForOrder(ctx context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return false, m.consumeErr
	}
	if m.hasReservation[orderID] && !m.consumed[orderID] && !m.released[orderID] {
		m.consumed[orderID] = true
		return true, nil
	}
	return false, nil
}

func (m *memInventory) ReleaseStockReservationForOrder(ctx context.Context, orderID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls = append(m.releaseCalls, orderID)
	if m.releaseErr != nil {
		return 0, m.releaseErr
	}
	if m.hasReservation[orderID] && !m.consumed[orderID] && !m.released[orderID] {
		m.released[orderID] = true
		return 1, nil
	}
	return 0, nil
}

func (m *memInventory) DeductStockForOrder(ctx context.Context, orderID int64, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deductErr != nil {
		return m.deductErr
	}
	m.deducted[orderID] = items
	return nil
}

// memFilter is the fast-path duplicate filter.
type memFilter struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memFilter) EventSeen(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[eventID], nil
}

func (m *memFilter) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

// memNotifier records published notification events.
type memNotifier struct {
	mu            sync.Mutex
	confirmations []int64
	refunds       []int64
	failures      []int64
	publishErr    error
}

func (m *memNotifier) PublishConfirmationRequested(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.confirmations = append(m.confirmations, orderID)
	return nil
}

func (m *memNotifier) PublishOrderRefunded(ctx context.Context, orderID, amount, refundedAmount int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.refunds = append(m.refunds, orderID)
	return nil
}

func (m *memNotifier) PublishPaymentFailed(ctx context.Context, orderID int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.failures = append(m.failures, orderID)
	return nil
}
