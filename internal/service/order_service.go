package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/statemachine"
	"floor-sync/internal/store"
	"floor-sync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyTTL  = 24 * time.Hour
	idempotencyLock = 30 * time.Second
	historyLimit    = 200
)

// Rates are percentages of the subtotal applied at order creation
type Rates struct {
	TaxPercent           float64
	ServiceChargePercent float64
}

// OrderService handles order business logic
type OrderService struct {
	store     OrderStore
	cache     IdempotencyCache
	publisher Publisher
	rates     Rates
	logger    *zap.Logger
}

// NewOrderService creates a new order service. cache may be nil.
func NewOrderService(store OrderStore, cache IdempotencyCache, publisher Publisher, rates Rates) *OrderService {
	return &OrderService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		rates:     rates,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	TableID        *int64             `json:"table_id,omitempty"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1"`
	Discount       int64              `json:"discount,omitempty"`
	PlacedBy       string             `json:"placed_by,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	MenuItemID int64 `json:"menu_item_id" binding:"required"`
	Quantity   int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResult is the placed order. Duplicate is set when the idempotency key
// matched an earlier submission and nothing new was created.
type CreateOrderResult struct {
	Order     *models.Order `json:"order"`
	Duplicate bool          `json:"duplicate"`
}

// Totals are the amounts computed once at creation
type Totals struct {
	Subtotal      int64
	Discount      int64
	Tax           int64
	ServiceCharge int64
	Total         int64
}

// CalculateTotals applies the rates to subtotal. The discount is clamped to [0, subtotal].
func CalculateTotals(subtotal, discount int64, rates Rates) Totals {
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	t := Totals{
		Subtotal:      subtotal,
		Discount:      discount,
		Tax:           percentOf(subtotal, rates.TaxPercent),
		ServiceCharge: percentOf(subtotal, rates.ServiceChargePercent),
	}
	t.Total = t.Subtotal + t.Tax + t.ServiceCharge - t.Discount
	return t
}

func percentOf(amount int64, percent float64) int64 {
	if percent <= 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * percent / 100))
}

// CreateOrder places an order. Retried submissions carrying the same idempotency key
// return the original order.
func (s *OrderService) CreateOrder(ctx context.Context, restaurantID int64, req *CreateOrderRequest, actor int64) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateCreateOrder(req); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	cacheKey := idempotencyCacheKey(restaurantID, req.IdempotencyKey)
	if existing, err := s.findDuplicate(ctx, restaurantID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		return &CreateOrderResult{Order: existing, Duplicate: true}, nil
	}

	if s.cache != nil {
		lockKey := "order:" + cacheKey
		acquired, err := s.cache.AcquireLock(ctx, lockKey, idempotencyLock)
		if err != nil {
			s.logger.Warn("Idempotency lock unavailable", zap.Error(err))
		} else if acquired {
			defer func() {
				if err := s.cache.ReleaseLock(context.Background(), lockKey); err != nil {
					s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
				}
			}()
		} else {
			return nil, fmt.Errorf("%w: idempotency key %s", ErrRequestInProgress, req.IdempotencyKey)
		}
	}

	items, subtotal, err := s.snapshotItems(ctx, restaurantID, req.Items)
	if err != nil {
		util.TransitionsRejectedTotal.WithLabelValues("order", "invalid_items").Inc()
		return nil, err
	}

	totals := CalculateTotals(subtotal, req.Discount, s.rates)
	order := &models.Order{
		RestaurantID:   restaurantID,
		TableID:        req.TableID,
		Subtotal:       totals.Subtotal,
		Discount:       totals.Discount,
		Tax:            totals.Tax,
		ServiceCharge:  totals.ServiceCharge,
		Total:          totals.Total,
		PlacedBy:       req.PlacedBy,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
	}

	placed, err := s.store.CreateOrder(ctx, order, actor)
	if err != nil {
		util.TransitionsRejectedTotal.WithLabelValues("order", rejectReason(err)).Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("restaurant_id", restaurantID),
		zap.Int64("total", order.Total))

	if s.cache != nil {
		if err := s.cache.SetIdempotencyKey(ctx, cacheKey, order.ID, idempotencyTTL); err != nil {
			s.logger.Warn("Failed to record idempotency key", zap.Error(err))
		}
	}

	event := models.OrderNewEvent{
		OrderID:   order.ID,
		TableID:   order.TableID,
		Status:    order.Status,
		Total:     order.Total,
		CreatedAt: order.CreatedAt,
	}
	if placed.Table != nil {
		event.TableNumber = placed.Table.Number
	}
	if err := s.publisher.Publish(ctx, restaurantID, models.EventTypeOrderNew, event); err != nil {
		s.logger.Error("Failed to publish order:new event", zap.Error(err))
	}

	if placed.TableChange != nil {
		publishTableChange(ctx, s.publisher, s.logger, placed.Table, placed.TableChange)
	}

	return &CreateOrderResult{Order: order}, nil
}

func validateCreateOrder(req *CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidInput)
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity of item %d must be positive", ErrInvalidInput, item.MenuItemID)
		}
	}
	switch req.PlacedBy {
	case "":
		req.PlacedBy = models.PlacedByCustomer
	case models.PlacedByCustomer, models.PlacedByStaff:
	default:
		return fmt.Errorf("%w: unknown placedBy %q", ErrInvalidInput, req.PlacedBy)
	}
	return nil
}

// idempotencyCacheKey scopes a client key to its restaurant
func idempotencyCacheKey(restaurantID int64, key string) string {
	return fmt.Sprintf("%d:%s", restaurantID, key)
}

func (s *OrderService) findDuplicate(ctx context.Context, restaurantID int64, key string) (*models.Order, error) {
	if s.cache != nil {
		id, err := s.cache.GetIdempotentOrderID(ctx, idempotencyCacheKey(restaurantID, key))
		if err != nil {
			s.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
		} else if id > 0 {
			order, err := s.store.GetOrderByID(ctx, id)
			if err == nil && order.RestaurantID == restaurantID && order.IdempotencyKey == key {
				return order, nil
			}
			s.logger.Warn("Ignoring stale idempotency cache entry",
				zap.Int64("restaurant_id", restaurantID),
				zap.Int64("order_id", id))
		}
	}

	existing, err := s.store.GetOrderByIdempotencyKey(ctx, restaurantID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return existing, nil
}

// snapshotItems captures names and prices from the menu at order time
func (s *OrderService) snapshotItems(ctx context.Context, restaurantID int64, reqItems []OrderItemRequest) ([]models.OrderItem, int64, error) {
	ids := make([]int64, 0, len(reqItems))
	for _, item := range reqItems {
		ids = append(ids, item.MenuItemID)
	}

	menu, err := s.store.GetMenuItemsByIDs(ctx, restaurantID, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load menu items: %w", err)
	}
	byID := make(map[int64]models.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}

	items := make([]models.OrderItem, 0, len(reqItems))
	var subtotal int64
	for _, req := range reqItems {
		m, ok := byID[req.MenuItemID]
		if !ok || !m.Available {
			return nil, 0, fmt.Errorf("%w: %d", store.ErrInvalidMenuItem, req.MenuItemID)
		}
		items = append(items, models.OrderItem{
			MenuItemID: m.ID,
			Name:       m.Name,
			Quantity:   req.Quantity,
			UnitPrice:  m.Price,
		})
		subtotal += m.Price * int64(req.Quantity)
	}

	return items, subtotal, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.store.GetOrderByID(ctx, orderID)
}

// OrderTransitions is an order's status and the statuses it may move to next
type OrderTransitions struct {
	OrderID int64                `json:"order_id"`
	Status  models.OrderStatus   `json:"status"`
	Next    []models.OrderStatus `json:"next"`
}

// Transitions lists the moves currently open to an order
func (s *OrderService) Transitions(ctx context.Context, orderID int64) (*OrderTransitions, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Transitions")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderTransitions{
		OrderID: order.ID,
		Status:  order.Status,
		Next:    statemachine.NextOrderStatuses(order.Status),
	}, nil
}

// UpdateStatus moves an order along its pipeline and broadcasts the change
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, to models.OrderStatus, actor int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	order, change, err := s.store.UpdateOrderStatus(ctx, orderID, to, actor)
	if err != nil {
		util.TransitionsRejectedTotal.WithLabelValues("order", rejectReason(err)).Inc()
		return nil, err
	}

	publishOrderChange(ctx, s.publisher, s.logger, order, change)
	return order, nil
}

// publishOrderChange records and broadcasts a committed order transition
func publishOrderChange(ctx context.Context, publisher Publisher, logger *zap.Logger, order *models.Order, change *statemachine.OrderChange) {
	util.OrderTransitionsTotal.WithLabelValues(string(order.Status)).Inc()
	logger.Info("Order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(change.Old)),
		zap.String("to", string(order.Status)))

	old := change.Old
	err := publisher.Publish(ctx, order.RestaurantID, models.EventTypeOrderUpdated, models.OrderUpdatedEvent{
		OrderID:   order.ID,
		TableID:   order.TableID,
		OldStatus: &old,
		Status:    order.Status,
		Timestamp: change.Entry.ChangedAt,
		CreatedAt: order.CreatedAt,
	})
	if err != nil {
		logger.Error("Failed to publish order:updated event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// ListByStatus retrieves a restaurant's orders in any of the given statuses.
// Live lists (active statuses only) are complete; lists that include completed
// or cancelled orders return the newest historyLimit.
func (s *OrderService) ListByStatus(ctx context.Context, restaurantID int64, statuses []models.OrderStatus) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListByStatus")
	defer span.End()

	if len(statuses) == 0 {
		statuses = models.ActiveOrderStatuses
	}
	limit := 0
	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, st)
		}
		if st.Terminal() {
			limit = historyLimit
		}
	}

	return s.store.ListOrdersByStatus(ctx, restaurantID, statuses, limit)
}

// CountByStatus counts a restaurant's orders in status
func (s *OrderService) CountByStatus(ctx context.Context, restaurantID int64, status models.OrderStatus) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CountByStatus")
	defer span.End()

	if !status.Valid() {
		return 0, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, status)
	}
	return s.store.CountOrdersByStatus(ctx, restaurantID, status)
}
