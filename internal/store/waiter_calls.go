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

const callColumns = `id, restaurant_id, table_id, table_number, type, status, staff_id, acknowledged_by,
	resolved_by, created_at, acknowledged_at, resolved_at`

// ActiveCallError carries the call that blocked a new one
type ActiveCallError struct {
	Call *models.WaiterCall
}

func (e *ActiveCallError) Error() string {
	return fmt.Sprintf("table %d already has active call %d", e.Call.TableID, e.Call.ID)
}

func (e *ActiveCallError) Unwrap() error { return ErrActiveCallExists }

// CreateWaiterCall opens a call for a table. At most one pending or
// acknowledged call may exist per table; the table row lock serializes racing callers.
func (s *Store) CreateWaiterCall(ctx context.Context, call *models.WaiterCall) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		table, err := lockTable(ctx, tx, call.TableID)
		if err != nil {
			return err
		}
		if table.RestaurantID != call.RestaurantID {
			return fmt.Errorf("table %d: %w", call.TableID, ErrNotFound)
		}

		var existing models.WaiterCall
		err = tx.GetContext(ctx, &existing,
			"SELECT "+callColumns+" FROM waiter_calls WHERE table_id = $1 AND status IN ($2, $3) LIMIT 1",
			call.TableID, models.CallStatusPending, models.CallStatusAcknowledged)
		if err == nil {
			return &ActiveCallError{Call: &existing}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check active calls: %w", err)
		}

		call.TableNumber = table.Number
		call.Status = models.CallStatusPending
		if call.StaffID == nil {
			call.StaffID = table.AssignedStaff
		}

		return tx.GetContext(ctx, call,
			`INSERT INTO waiter_calls (restaurant_id, table_id, table_number, type, status, staff_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+callColumns,
			call.RestaurantID, call.TableID, call.TableNumber, call.Type, call.Status, call.StaffID, s.now())
	})
}

// GetWaiterCall retrieves a call by ID
func (s *Store) GetWaiterCall(ctx context.Context, id int64) (*models.WaiterCall, error) {
	var call models.WaiterCall
	err := s.db.GetContext(ctx, &call, "SELECT "+callColumns+" FROM waiter_calls WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("waiter call %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// AcknowledgeWaiterCall acknowledges a pending call. changed is false when the
// call was already acknowledged; nothing is written in that case.
func (s *Store) AcknowledgeWaiterCall(ctx context.Context, id, actor int64) (call *models.WaiterCall, changed bool, err error) {
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		call, err = lockCall(ctx, tx, id)
		if err != nil {
			return err
		}

		changed, err = statemachine.AcknowledgeCall(call, actor, s.now())
		if err != nil || !changed {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE waiter_calls SET status = $1, acknowledged_at = $2, acknowledged_by = $3 WHERE id = $4",
			call.Status, call.AcknowledgedAt, call.AcknowledgedBy, call.ID)
		if err != nil {
			return fmt.Errorf("failed to acknowledge call: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return call, changed, nil
}

// ResolveWaiterCall resolves a call, back-filling the acknowledgement when skipped
func (s *Store) ResolveWaiterCall(ctx context.Context, id, actor int64) (*models.WaiterCall, error) {
	var call *models.WaiterCall

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		call, err = lockCall(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := statemachine.ResolveCall(call, actor, s.now()); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE waiter_calls SET status = $1, acknowledged_at = $2, acknowledged_by = $3,
				resolved_at = $4, resolved_by = $5 WHERE id = $6`,
			call.Status, call.AcknowledgedAt, call.AcknowledgedBy, call.ResolvedAt, call.ResolvedBy, call.ID)
		if err != nil {
			return fmt.Errorf("failed to resolve call: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return call, nil
}

func lockCall(ctx context.Context, tx *sqlx.Tx, id int64) (*models.WaiterCall, error) {
	var call models.WaiterCall
	err := tx.GetContext(ctx, &call, "SELECT "+callColumns+" FROM waiter_calls WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("waiter call %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock call: %w", err)
	}
	return &call, nil
}

// ListActiveWaiterCalls retrieves pending and acknowledged calls, oldest first.
// With a staff filter, calls assigned to that staff member or unassigned are returned.
func (s *Store) ListActiveWaiterCalls(ctx context.Context, restaurantID int64, staffID *int64) ([]models.WaiterCall, error) {
	calls := []models.WaiterCall{}
	var err error
	if staffID == nil {
		err = s.db.SelectContext(ctx, &calls,
			"SELECT "+callColumns+` FROM waiter_calls
			WHERE restaurant_id = $1 AND status IN ($2, $3) ORDER BY created_at`,
			restaurantID, models.CallStatusPending, models.CallStatusAcknowledged)
	} else {
		err = s.db.SelectContext(ctx, &calls,
			"SELECT "+callColumns+` FROM waiter_calls
			WHERE restaurant_id = $1 AND status IN ($2, $3) AND (staff_id = $4 OR staff_id IS NULL)
			ORDER BY created_at`,
			restaurantID, models.CallStatusPending, models.CallStatusAcknowledged, *staffID)
	}
	return calls, err
}

// ListWaiterCallHistory retrieves calls of any status created in [from, to], newest first
func (s *Store) ListWaiterCallHistory(ctx context.Context, restaurantID int64, from, to time.Time, limit int) ([]models.WaiterCall, error) {
	if limit <= 0 {
		limit = 50
	}

	calls := []models.WaiterCall{}
	err := s.db.SelectContext(ctx, &calls,
		"SELECT "+callColumns+` FROM waiter_calls
		WHERE restaurant_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC LIMIT $4`,
		restaurantID, from, to, limit)
	return calls, err
}
