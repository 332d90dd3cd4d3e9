package service

import (
	"context"
	"fmt"
	"time"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger is the slice of the store the inventory service needs. All
// atomicity lives behind it: the reserve insert re-checks availability in
// the same statement, release and consume are conditional updates.
type Ledger interface {
	OnHand(ctx context.Context, variantID int64) (int, error)
	InsertReservation(ctx context.Context, variantID int64, quantity int, orderID int64, reservationID string) (bool, error)
	ReleaseReservationByOrder(ctx context.Context, orderID int64) (int, error)
	ReleaseReservationByID(ctx context.Context, reservationID string) (int, error)
	ConsumeReservationByOrder(ctx context.Context, orderID int64) (int, error)
	InsertSale(ctx context.Context, variantID int64, quantity int, orderID int64) error
}

// OnHandCache is the optional fast path for availability reads. A nil
// cache or a cache error falls through to the ledger.
type OnHandCache interface {
	GetOnHand(ctx context.Context, variantID int64) (int, bool, error)
	CacheOnHand(ctx context.Context, variantID int64, onHand int, ttl time.Duration) error
	InvalidateOnHand(ctx context.Context, variantID int64) error
}

const onHandCacheTTL = 30 * time.Second

// ReservationItem is one requested line of a reservation.
type ReservationItem struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

// InsufficientItem reports a variant whose on-hand did not cover the
// request.
type InsufficientItem struct {
	VariantID int64 `json:"variant_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

// AvailabilityResult is the outcome of a stock check.
type AvailabilityResult struct {
	Available         bool               `json:"available"`
	InsufficientItems []InsufficientItem `json:"insufficient_items,omitempty"`
}

// ReservationResult is the outcome of a reservation attempt.
type ReservationResult struct {
	Reserved          bool               `json:"reserved"`
	ReservationID     string             `json:"reservation_id,omitempty"`
	InsufficientItems []InsufficientItem `json:"insufficient_items,omitempty"`
}

// InventoryService coordinates the stock ledger.
type InventoryService struct {
	ledger Ledger
	cache  OnHandCache
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service. cache may be nil.
func NewInventoryService(ledger Ledger, cache OnHandCache, logger *zap.Logger) *InventoryService {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &InventoryService{ledger: ledger, cache: cache, logger: logger}
}

// aggregateItems sums quantities for duplicate variant entries, keeping
// first-seen order for deterministic results.
func aggregateItems(items []ReservationItem) []ReservationItem {
	index := make(map[int64]int, len(items))
	aggregated := make([]ReservationItem, 0, len(items))
	for _, item := range items {
		if pos, seen := index[item.VariantID]; seen {
			aggregated[pos].Quantity += item.Quantity
			continue
		}
		index[item.VariantID] = len(aggregated)
		aggregated = append(aggregated, item)
	}
	return aggregated
}

// onHand reads the derived quantity, via cache when possible.
func (s *InventoryService) onHand(ctx context.Context, variantID int64) (int, error) {
	if s.cache != nil {
		if cached, found, err := s.cache.GetOnHand(ctx, variantID); err == nil && found {
			return cached, nil
		}
	}

	onHand, err := s.ledger.OnHand(ctx, variantID)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.CacheOnHand(ctx, variantID, onHand, onHandCacheTTL); err != nil {
			s.logger.Warn("failed to cache on-hand quantity",
				zap.Int64("variant_id", variantID), zap.Error(err))
		}
	}
	return onHand, nil
}

func (s *InventoryService) invalidate(ctx context.Context, variantID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateOnHand(ctx, variantID); err != nil {
		s.logger.Warn("failed to invalidate on-hand cache",
			zap.Int64("variant_id", variantID), zap.Error(err))
	}
}

// CheckStockAvailability compares requested quantities against derived
// on-hand per variant. Advisory only; ReserveStockForOrder re-checks
// atomically at write time.
func (s *InventoryService) CheckStockAvailability(ctx context.Context, items []ReservationItem) (*AvailabilityResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.CheckStockAvailability")
	defer span.End()

	result := &AvailabilityResult{Available: true}
	for _, item := range aggregateItems(items) {
		onHand, err := s.onHand(ctx, item.VariantID)
		if err != nil {
			return nil, fmt.Errorf("failed to read on-hand for variant %d: %w", item.VariantID, err)
		}
		if onHand < item.Quantity {
			result.Available = false
			result.InsufficientItems = append(result.InsufficientItems, InsufficientItem{
				VariantID: item.VariantID,
				Requested: item.Quantity,
				Available: onHand,
			})
		}
	}
	return result, nil
}

// ReserveStockForOrder attempts an all-or-nothing reservation. Each
// variant's insert carries its own availability check; if any insert
// reports zero rows the whole reservation fails, partial inserts from
// this call are released, and the insufficient variants are reported.
func (s *InventoryService) ReserveStockForOrder(ctx context.Context, orderID int64, items []ReservationItem) (*ReservationResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ReserveStockForOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	aggregated := aggregateItems(items)
	reservationID := uuid.New().String()

	for i, item := range aggregated {
		ok, err := s.ledger.InsertReservation(ctx, item.VariantID, item.Quantity, orderID, reservationID)
		if err != nil {
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
			s.compensate(ctx, reservationID, aggregated[:i])
			return nil, fmt.Errorf("failed to reserve variant %d: %w", item.VariantID, err)
		}
		if !ok {
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			insufficient := s.collectInsufficient(ctx, aggregated[i:])
			s.compensate(ctx, reservationID, aggregated[:i])
			return &ReservationResult{
				Reserved:          false,
				InsufficientItems: insufficient,
			}, nil
		}
		util.InventoryMovementsTotal.WithLabelValues(models.MovementKindReservation).Inc()
		s.invalidate(ctx, item.VariantID)
	}

	s.logger.Info("stock reserved",
		zap.Int64("order_id", orderID),
		zap.String("reservation_id", reservationID),
		zap.Int("variants", len(aggregated)))

	return &ReservationResult{Reserved: true, ReservationID: reservationID}, nil
}

// collectInsufficient reports which of the remaining variants cannot be
// covered right now, with their current availability.
func (s *InventoryService) collectInsufficient(ctx context.Context, items []ReservationItem) []InsufficientItem {
	var insufficient []InsufficientItem
	for _, item := range items {
		onHand, err := s.ledger.OnHand(ctx, item.VariantID)
		if err != nil {
			s.logger.Warn("failed to read on-hand while reporting shortage",
				zap.Int64("variant_id", item.VariantID), zap.Error(err))
			continue
		}
		if onHand < item.Quantity {
			insufficient = append(insufficient, InsufficientItem{
				VariantID: item.VariantID,
				Requested: item.Quantity,
				Available: onHand,
			})
		}
	}
	return insufficient
}

// compensate releases the rows this reservation attempt already inserted.
func (s *InventoryService) compensate(ctx context.Context, reservationID string, inserted []ReservationItem) {
	if len(inserted) == 0 {
		return
	}
	if _, err := s.ledger.ReleaseReservationByID(ctx, reservationID); err != nil {
		s.logger.Error("failed to release partial reservation",
			zap.String("reservation_id", reservationID), zap.Error(err))
		return
	}
	for _, item := range inserted {
		s.invalidate(ctx, item.VariantID)
	}
}

// ReleaseStockReservationForOrder releases all outstanding reservations
// for the order. Idempotent: a second run releases zero rows.
func (s *InventoryService) ReleaseStockReservationForOrder(ctx context.Context, orderID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ReleaseStockReservationForOrder")
	defer span.End()

	released, err := s.ledger.ReleaseReservationByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		util.InventoryMovementsTotal.WithLabelValues(models.MovementKindReleased).Add(float64(released))
		s.logger.Info("stock reservation released",
			zap.Int64("order_id", orderID), zap.Int("rows", released))
	}
	return released, nil
}

// ReleaseStockReservation releases by reservation ID.
func (s *InventoryService) ReleaseStockReservation(ctx context.Context, reservationID string) (int, error) {
	return s.ledger.ReleaseReservationByID(ctx, reservationID)
}

// ConsumeStockReservationForOrder converts the order's reservation into a
// permanent sale. Returns whether a reservation existed at all, so the
// caller can fall back to direct deduction for legacy orders.
func (s *InventoryService) ConsumeStockReservationForOrder(ctx context.Context, orderID int64) (bool, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ConsumeStockReservationForOrder")
	defer span.End()

	converted, err := s.ledger.ConsumeReservationByOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if converted > 0 {
		util.InventoryMovementsTotal.WithLabelValues(models.MovementKindSale).Add(float64(converted))
	}
	return converted > 0, nil
}

// DeductStockForOrder writes direct sale decrements from the order's line
// items. Legacy path only, for orders created before reservations existed.
func (s *InventoryService) DeductStockForOrder(ctx context.Context, orderID int64, items []models.OrderItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.DeductStockForOrder")
	defer span.End()

	for _, item := range items {
		if err := s.ledger.InsertSale(ctx, item.VariantID, item.Quantity, orderID); err != nil {
			return fmt.Errorf("failed to deduct stock for variant %d: %w", item.VariantID, err)
		}
		util.InventoryMovementsTotal.WithLabelValues(models.MovementKindSale).Inc()
		s.invalidate(ctx, item.VariantID)
	}
	return nil
}
