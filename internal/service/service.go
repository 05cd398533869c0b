package service

import (
	"context"
	"errors"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/statemachine"
	"floor-sync/internal/store"
)

// ErrInvalidInput is returned for requests rejected before reaching the store
var ErrInvalidInput = errors.New("invalid input")

// ErrRequestInProgress is returned while an order with the same idempotency key is being placed
var ErrRequestInProgress = errors.New("request already in progress")

// Publisher broadcasts floor events on a restaurant channel
type Publisher interface {
	Publish(ctx context.Context, restaurantID int64, eventType string, payload interface{}) error
}

// TableStore is the persistence used by TableService
type TableStore interface {
	GetTable(ctx context.Context, id int64) (*models.Table, error)
	ListTables(ctx context.Context, restaurantID int64) ([]models.Table, error)
	GetTableHistory(ctx context.Context, tableID int64) ([]models.TableStatusEntry, error)
	UpdateTableStatus(ctx context.Context, id int64, tr statemachine.TableTransition) (*models.Table, *statemachine.TableChange, error)
	FreeTable(ctx context.Context, id int64, actor int64) (*store.FreedTable, error)
	ListTableOrders(ctx context.Context, tableID int64, from time.Time, to *time.Time) ([]models.Order, error)
	SoftDeleteTable(ctx context.Context, id int64) error
}

// OrderStore is the persistence used by OrderService
type OrderStore interface {
	GetMenuItemsByIDs(ctx context.Context, restaurantID int64, ids []int64) ([]models.MenuItem, error)
	CreateOrder(ctx context.Context, order *models.Order, actor int64) (*store.PlacedOrder, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, restaurantID int64, key string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, to models.OrderStatus, actor int64) (*models.Order, *statemachine.OrderChange, error)
	ListOrdersByStatus(ctx context.Context, restaurantID int64, statuses []models.OrderStatus, limit int) ([]models.Order, error)
	CountOrdersByStatus(ctx context.Context, restaurantID int64, status models.OrderStatus) (int, error)
}

// CallStore is the persistence used by WaiterCallService
type CallStore interface {
	CreateWaiterCall(ctx context.Context, call *models.WaiterCall) error
	GetWaiterCall(ctx context.Context, id int64) (*models.WaiterCall, error)
	AcknowledgeWaiterCall(ctx context.Context, id, actor int64) (*models.WaiterCall, bool, error)
	ResolveWaiterCall(ctx context.Context, id, actor int64) (*models.WaiterCall, error)
	ListActiveWaiterCalls(ctx context.Context, restaurantID int64, staffID *int64) ([]models.WaiterCall, error)
	ListWaiterCallHistory(ctx context.Context, restaurantID int64, from, to time.Time, limit int) ([]models.WaiterCall, error)
}

// IdempotencyCache short-circuits retried order submissions
type IdempotencyCache interface {
	GetIdempotentOrderID(ctx context.Context, key string) (int64, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// rejectReason labels a failed transition for metrics
func rejectReason(err error) string {
	switch {
	case errors.Is(err, statemachine.ErrAlreadyInState):
		return "already_in_state"
	case errors.Is(err, statemachine.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, statemachine.ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrTableHasActiveOrders):
		return "active_orders"
	case errors.Is(err, store.ErrTableUnavailable):
		return "table_unavailable"
	case errors.Is(err, store.ErrActiveCallExists):
		return "active_call"
	default:
		return "error"
	}
}
