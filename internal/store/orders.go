package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/statemachine"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, restaurant_id, table_id, status, subtotal, discount, tax, service_charge, total,
	placed_by, idempotency_key, ready_at, completed_at, created_at, updated_at`

// ReasonOrderPlaced is recorded when placing an order occupies a free table
const ReasonOrderPlaced = "order placed"

// PlacedOrder is the outcome of CreateOrder. TableChange is set when the order
// occupied a free table.
type PlacedOrder struct {
	Order       *models.Order
	Table       *models.Table
	TableChange *statemachine.TableChange
}

// GetMenuItemsByIDs retrieves menu items of a restaurant by IDs
func (s *Store) GetMenuItemsByIDs(ctx context.Context, restaurantID int64, ids []int64) ([]models.MenuItem, error) {
	if len(ids) == 0 {
		return []models.MenuItem{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT id, restaurant_id, name, price, available FROM menu_items WHERE restaurant_id = ? AND id IN (?)",
		restaurantID, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	items := []models.MenuItem{}
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}

// CreateOrder persists a new pending order with its items and first history entry.
// A free table is moved to occupied in the same transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, actor int64) (*PlacedOrder, error) {
	placed := &PlacedOrder{Order: order}
	now := s.now()

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if order.TableID != nil {
			table, err := lockTable(ctx, tx, *order.TableID)
			if err != nil {
				return err
			}
			if err := checkTableAcceptsOrder(table, order); err != nil {
				return err
			}
			placed.Table = table
		}

		order.Status = models.OrderStatusPending
		err := tx.GetContext(ctx, order,
			`INSERT INTO orders (restaurant_id, table_id, status, subtotal, discount, tax, service_charge,
				total, placed_by, idempotency_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			RETURNING `+orderColumns,
			order.RestaurantID, order.TableID, order.Status, order.Subtotal, order.Discount, order.Tax,
			order.ServiceCharge, order.Total, order.PlacedBy, order.IdempotencyKey, now)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			err := tx.GetContext(ctx, &item.ID,
				`INSERT INTO order_items (order_id, menu_item_id, name, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				item.OrderID, item.MenuItemID, item.Name, item.Quantity, item.UnitPrice)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		entry := models.OrderStatusEntry{
			OrderID:   order.ID,
			Status:    order.Status,
			ChangedBy: actor,
			ChangedAt: now,
		}
		if err := insertOrderHistory(ctx, tx, &entry); err != nil {
			return err
		}
		order.StatusHistory = []models.OrderStatusEntry{entry}

		if placed.Table != nil && placed.Table.Status == models.TableStatusFree {
			change, err := applyTableTransition(ctx, tx, placed.Table, statemachine.TableTransition{
				NewStatus: models.TableStatusOccupied,
				Reason:    ReasonOrderPlaced,
				Actor:     actor,
			}, now)
			if err != nil {
				return err
			}
			placed.TableChange = change
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return placed, nil
}

func checkTableAcceptsOrder(table *models.Table, order *models.Order) error {
	if table.RestaurantID != order.RestaurantID {
		return fmt.Errorf("%w: table %d belongs to another restaurant", ErrTableUnavailable, table.ID)
	}
	switch table.Status {
	case models.TableStatusClosed:
		return fmt.Errorf("%w: table %d is closed", ErrTableUnavailable, table.ID)
	case models.TableStatusCleaning:
		if order.PlacedBy != models.PlacedByStaff {
			return fmt.Errorf("%w: table %d is being cleaned", ErrTableUnavailable, table.ID)
		}
	}
	return nil
}

// GetOrderByID retrieves an order with its items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT id, order_id, menu_item_id, name, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id",
		id); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	return &order, nil
}

// GetOrderByIdempotencyKey retrieves a restaurant's order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, restaurantID int64, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE restaurant_id = $1 AND idempotency_key = $2", restaurantID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus applies an order transition under a row lock
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, to models.OrderStatus, actor int64) (*models.Order, *statemachine.OrderChange, error) {
	var (
		order  models.Order
		change *statemachine.OrderChange
	)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order,
			"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		change, err = applyOrderTransition(ctx, tx, &order, to, actor, s.now())
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return &order, change, nil
}

// applyOrderTransition moves a locked order and records the history entry
func applyOrderTransition(ctx context.Context, tx *sqlx.Tx, order *models.Order, to models.OrderStatus, actor int64, at time.Time) (*statemachine.OrderChange, error) {
	change, err := statemachine.ApplyOrder(order, to, actor, at)
	if err != nil {
		return nil, err
	}

	if err := insertOrderHistory(ctx, tx, &change.Entry); err != nil {
		return nil, err
	}
	order.StatusHistory[len(order.StatusHistory)-1].ID = change.Entry.ID

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, ready_at = $2, completed_at = $3, updated_at = $4 WHERE id = $5",
		order.Status, order.ReadyAt, order.CompletedAt, order.UpdatedAt, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return change, nil
}

func insertOrderHistory(ctx context.Context, tx *sqlx.Tx, entry *models.OrderStatusEntry) error {
	err := tx.GetContext(ctx, &entry.ID,
		`INSERT INTO order_status_history (order_id, status, changed_by, changed_at)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		entry.OrderID, entry.Status, entry.ChangedBy, entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to append order history: %w", err)
	}
	return nil
}

// ListOrdersByStatus retrieves a restaurant's orders in any of the given statuses, newest first.
// A limit <= 0 returns every match.
func (s *Store) ListOrdersByStatus(ctx context.Context, restaurantID int64, statuses []models.OrderStatus, limit int) ([]models.Order, error) {
	if len(statuses) == 0 {
		return []models.Order{}, nil
	}

	query := "SELECT " + orderColumns + " FROM orders WHERE restaurant_id = ? AND status IN (?) ORDER BY created_at DESC"
	params := []interface{}{restaurantID, statuses}
	if limit > 0 {
		query += " LIMIT ?"
		params = append(params, limit)
	}

	query, args, err := sqlx.In(query, params...)
	if err != nil {
		return nil, err
	}

	orders := []models.Order{}
	if err := s.db.SelectContext(ctx, &orders, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return orders, s.attachItems(ctx, orders)
}

// CountOrdersByStatus counts a restaurant's orders in the given status
func (s *Store) CountOrdersByStatus(ctx context.Context, restaurantID int64, status models.OrderStatus) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM orders WHERE restaurant_id = $1 AND status = $2", restaurantID, status)
	return count, err
}

// ListTableOrders retrieves orders placed on a table within [from, to). A nil to means open-ended.
func (s *Store) ListTableOrders(ctx context.Context, tableID int64, from time.Time, to *time.Time) ([]models.Order, error) {
	orders := []models.Order{}
	var err error
	if to == nil {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders WHERE table_id = $1 AND created_at >= $2 ORDER BY created_at DESC",
			tableID, from)
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders WHERE table_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at DESC",
			tableID, from, *to)
	}
	return orders, err
}

func (s *Store) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
	}

	query, args, err := sqlx.In(
		"SELECT id, order_id, menu_item_id, name, quantity, unit_price FROM order_items WHERE order_id IN (?) ORDER BY id",
		ids)
	if err != nil {
		return err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	for _, item := range items {
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	return nil
}
