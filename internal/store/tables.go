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

const tableColumns = `id, restaurant_id, number, capacity, location, type, status, assigned_staff_id,
	accessible, joinable, created_at, updated_at, deleted_at`

// ReasonSessionClosed is recorded when a table is freed at the end of its session
const ReasonSessionClosed = "session closed"

// GetTable retrieves a table by ID
func (s *Store) GetTable(ctx context.Context, id int64) (*models.Table, error) {
	var table models.Table
	err := s.db.GetContext(ctx, &table,
		"SELECT "+tableColumns+" FROM tables WHERE id = $1 AND deleted_at IS NULL", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &table, nil
}

// ListTables retrieves the tables of a restaurant ordered by number
func (s *Store) ListTables(ctx context.Context, restaurantID int64) ([]models.Table, error) {
	tables := []models.Table{}
	err := s.db.SelectContext(ctx, &tables,
		"SELECT "+tableColumns+" FROM tables WHERE restaurant_id = $1 AND deleted_at IS NULL ORDER BY number",
		restaurantID)
	return tables, err
}

// GetTableHistory retrieves a table's status history, oldest first
func (s *Store) GetTableHistory(ctx context.Context, tableID int64) ([]models.TableStatusEntry, error) {
	history := []models.TableStatusEntry{}
	err := s.db.SelectContext(ctx, &history,
		`SELECT id, table_id, status, reason, changed_by, changed_at
		FROM table_status_history WHERE table_id = $1 ORDER BY changed_at, id`, tableID)
	return history, err
}

// SoftDeleteTable hides a table while keeping its history
func (s *Store) SoftDeleteTable(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tables SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL", s.now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("table %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateTableStatus applies a table transition under a row lock
func (s *Store) UpdateTableStatus(ctx context.Context, id int64, tr statemachine.TableTransition) (*models.Table, *statemachine.TableChange, error) {
	var (
		table  *models.Table
		change *statemachine.TableChange
	)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		table, err = lockTable(ctx, tx, id)
		if err != nil {
			return err
		}
		change, err = applyTableTransition(ctx, tx, table, tr, s.now())
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return table, change, nil
}

// FreedTable is the outcome of FreeTable. Completed holds the served orders
// closed together with the session.
type FreedTable struct {
	Table     *models.Table
	Change    *statemachine.TableChange
	Completed []CompletedOrder
}

// CompletedOrder is a served order completed when its table was freed
type CompletedOrder struct {
	Order  *models.Order
	Change *statemachine.OrderChange
}

// FreeTable ends the table's implicit session. It is rejected while any order
// on the table is still in flight; served orders are completed.
func (s *Store) FreeTable(ctx context.Context, id int64, actor int64) (*FreedTable, error) {
	freed := &FreedTable{}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		table, err := lockTable(ctx, tx, id)
		if err != nil {
			return err
		}

		if table.Status == models.TableStatusFree {
			return fmt.Errorf("%w: table %d is free", statemachine.ErrAlreadyInState, id)
		}

		query, args, err := sqlx.In(
			"SELECT COUNT(*) FROM orders WHERE table_id = ? AND status IN (?)",
			id, models.InFlightOrderStatuses)
		if err != nil {
			return err
		}

		var inFlight int
		if err := tx.GetContext(ctx, &inFlight, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to count table orders: %w", err)
		}
		if inFlight > 0 {
			return fmt.Errorf("%w: table %d has %d", ErrTableHasActiveOrders, id, inFlight)
		}

		now := s.now()
		served := []models.Order{}
		err = tx.SelectContext(ctx, &served,
			"SELECT "+orderColumns+" FROM orders WHERE table_id = $1 AND status = $2 ORDER BY id FOR UPDATE",
			id, models.OrderStatusServed)
		if err != nil {
			return fmt.Errorf("failed to lock served orders: %w", err)
		}
		for i := range served {
			order := &served[i]
			change, err := applyOrderTransition(ctx, tx, order, models.OrderStatusCompleted, actor, now)
			if err != nil {
				return err
			}
			freed.Completed = append(freed.Completed, CompletedOrder{Order: order, Change: change})
		}

		freed.Table = table
		freed.Change, err = applyTableTransition(ctx, tx, table, statemachine.TableTransition{
			NewStatus: models.TableStatusFree,
			Reason:    ReasonSessionClosed,
			Actor:     actor,
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	return freed, nil
}

func lockTable(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Table, error) {
	var table models.Table
	err := tx.GetContext(ctx, &table,
		"SELECT "+tableColumns+" FROM tables WHERE id = $1 AND deleted_at IS NULL FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock table: %w", err)
	}
	return &table, nil
}

// applyTableTransition runs the table state machine and persists the history
// entry together with the new status
func applyTableTransition(ctx context.Context, tx *sqlx.Tx, table *models.Table, tr statemachine.TableTransition, at time.Time) (*statemachine.TableChange, error) {
	change, err := statemachine.ApplyTable(table, tr, at)
	if err != nil {
		return nil, err
	}

	entry := &change.Entry
	err = tx.GetContext(ctx, &entry.ID,
		`INSERT INTO table_status_history (table_id, status, reason, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.TableID, entry.Status, entry.Reason, entry.ChangedBy, entry.ChangedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append table history: %w", err)
	}
	table.StatusHistory[len(table.StatusHistory)-1].ID = entry.ID

	_, err = tx.ExecContext(ctx,
		"UPDATE tables SET status = $1, updated_at = $2 WHERE id = $3",
		table.Status, table.UpdatedAt, table.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update table status: %w", err)
	}

	return change, nil
}
