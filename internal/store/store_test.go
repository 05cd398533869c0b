package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/statemachine"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC)

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *Store) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStoreFromDB(sqlx.NewDb(db, "postgres"))
	s.now = func() time.Time { return fixedNow }
	return mock, s
}

var tableCols = []string{
	"id", "restaurant_id", "number", "capacity", "location", "type", "status", "assigned_staff_id",
	"accessible", "joinable", "created_at", "updated_at", "deleted_at",
}

func tableRow(id int64, status models.TableStatus) *sqlmock.Rows {
	return sqlmock.NewRows(tableCols).AddRow(
		id, int64(1), 5, 4, "Terrace", "round", string(status), nil,
		false, true, fixedNow.Add(-time.Hour), fixedNow.Add(-time.Hour), nil,
	)
}

var orderCols = []string{
	"id", "restaurant_id", "table_id", "status", "subtotal", "discount", "tax", "service_charge", "total",
	"placed_by", "idempotency_key", "ready_at", "completed_at", "created_at", "updated_at",
}

var callCols = []string{
	"id", "restaurant_id", "table_id", "table_number", "type", "status", "staff_id", "acknowledged_by",
	"resolved_by", "created_at", "acknowledged_at", "resolved_at",
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestGetTable_NotFound(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(q("FROM tables WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	table, err := s.GetTable(context.Background(), 42)

	assert.Nil(t, table)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteTable(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectExec(q("UPDATE tables SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL")).
		WithArgs(fixedNow, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE tables SET deleted_at")).
		WithArgs(fixedNow, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.SoftDeleteTable(context.Background(), 5))
	assert.ErrorIs(t, s.SoftDeleteTable(context.Background(), 5), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableStatus_AppendsHistory(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM tables WHERE id = $1 AND deleted_at IS NULL FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(tableRow(5, models.TableStatusOccupied))
	mock.ExpectQuery(q("INSERT INTO table_status_history")).
		WithArgs(int64(5), sqlmock.AnyArg(), "spill", int64(9), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mock.ExpectExec(q("UPDATE tables SET status = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	table, change, err := s.UpdateTableStatus(context.Background(), 5, statemachine.TableTransition{
		NewStatus: models.TableStatusCleaning,
		Reason:    "spill",
		Actor:     9,
	})

	require.NoError(t, err)
	assert.Equal(t, models.TableStatusCleaning, table.Status)
	assert.Equal(t, models.TableStatusOccupied, change.Previous)
	assert.Equal(t, int64(77), change.Entry.ID)
	require.Len(t, table.StatusHistory, 1)
	assert.Equal(t, table.Status, table.StatusHistory[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableStatus_SameStatusWritesNothing(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(tableRow(5, models.TableStatusReserved))
	mock.ExpectRollback()

	_, _, err := s.UpdateTableStatus(context.Background(), 5, statemachine.TableTransition{
		NewStatus: models.TableStatusReserved,
		Actor:     9,
	})

	assert.ErrorIs(t, err, statemachine.ErrAlreadyInState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFreeTable_RejectsInFlightOrders(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(tableRow(5, models.TableStatusOccupied))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM orders WHERE table_id = $1 AND status IN ($2, $3, $4, $5)")).
		WithArgs(int64(5), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := s.FreeTable(context.Background(), 5, 9)

	assert.ErrorIs(t, err, ErrTableHasActiveOrders)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFreeTable_ClosesSession(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(tableRow(5, models.TableStatusOccupied))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM orders")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(q("FROM orders WHERE table_id = $1 AND status = $2 ORDER BY id FOR UPDATE")).
		WithArgs(int64(5), models.OrderStatusServed).
		WillReturnRows(sqlmock.NewRows(orderCols))
	mock.ExpectQuery(q("INSERT INTO table_status_history")).
		WithArgs(int64(5), sqlmock.AnyArg(), ReasonSessionClosed, int64(9), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(78)))
	mock.ExpectExec(q("UPDATE tables SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	freed, err := s.FreeTable(context.Background(), 5, 9)

	require.NoError(t, err)
	assert.Equal(t, models.TableStatusFree, freed.Table.Status)
	assert.Equal(t, ReasonSessionClosed, freed.Change.Entry.Reason)
	assert.Empty(t, freed.Completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFreeTable_CompletesServedOrders(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(tableRow(5, models.TableStatusOccupied))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM orders")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(q("FROM orders WHERE table_id = $1 AND status = $2 ORDER BY id FOR UPDATE")).
		WithArgs(int64(5), models.OrderStatusServed).
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(
			int64(31), int64(1), int64(5), "served", int64(2000), int64(0), int64(200), int64(0), int64(2200),
			"customer", "k-31", fixedNow.Add(-20*time.Minute), nil, fixedNow.Add(-time.Hour), fixedNow.Add(-10*time.Minute),
		))
	mock.ExpectQuery(q("INSERT INTO order_status_history")).
		WithArgs(int64(31), models.OrderStatusCompleted, int64(9), fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(90)))
	mock.ExpectExec(q("UPDATE orders SET status = $1, ready_at = $2, completed_at = $3, updated_at = $4 WHERE id = $5")).
		WithArgs(models.OrderStatusCompleted, sqlmock.AnyArg(), fixedNow, fixedNow, int64(31)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO table_status_history")).
		WithArgs(int64(5), sqlmock.AnyArg(), ReasonSessionClosed, int64(9), fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(91)))
	mock.ExpectExec(q("UPDATE tables SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	freed, err := s.FreeTable(context.Background(), 5, 9)

	require.NoError(t, err)
	require.Len(t, freed.Completed, 1)
	done := freed.Completed[0]
	assert.Equal(t, models.OrderStatusCompleted, done.Order.Status)
	assert.Equal(t, models.OrderStatusServed, done.Change.Old)
	assert.Equal(t, int64(90), done.Change.Entry.ID)
	require.NotNil(t, done.Order.CompletedAt)
	assert.Equal(t, fixedNow, *done.Order.CompletedAt)
	assert.Equal(t, models.TableStatusFree, freed.Table.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFreeTable_AlreadyFree(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(tableRow(5, models.TableStatusFree))
	mock.ExpectRollback()

	_, err := s.FreeTable(context.Background(), 5, 9)

	assert.ErrorIs(t, err, statemachine.ErrAlreadyInState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountOrdersByStatus(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(q("SELECT COUNT(*) FROM orders WHERE restaurant_id = $1 AND status = $2")).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := s.CountOrdersByStatus(context.Background(), 1, models.OrderStatusPending)

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersByStatus_Empty(t *testing.T) {
	mock, s := setupMockStore(t)

	orders, err := s.ListOrdersByStatus(context.Background(), 1, nil, 0)

	require.NoError(t, err)
	assert.Empty(t, orders)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersByStatus_LimitIsOptional(t *testing.T) {
	mock, s := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`WHERE restaurant_id = \$1 AND status IN \(\$2, \$3\) ORDER BY created_at DESC$`).
		WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(orderCols))
	mock.ExpectQuery(q("ORDER BY created_at DESC LIMIT $3")).
		WithArgs(int64(1), sqlmock.AnyArg(), 50).
		WillReturnRows(sqlmock.NewRows(orderCols))

	orders, err := s.ListOrdersByStatus(ctx, 1, []models.OrderStatus{models.OrderStatusPending, models.OrderStatusServed}, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = s.ListOrdersByStatus(ctx, 1, []models.OrderStatus{models.OrderStatusCompleted}, 50)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByIdempotencyKey_ScopedToRestaurant(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(q("FROM orders WHERE restaurant_id = $1 AND idempotency_key = $2")).
		WithArgs(int64(2), "k").
		WillReturnError(sql.ErrNoRows)

	order, err := s.GetOrderByIdempotencyKey(context.Background(), 2, "k")

	require.NoError(t, err)
	assert.Nil(t, order)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWaiterCall_ActiveCallExists(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(tableRow(5, models.TableStatusOccupied))
	mock.ExpectQuery(q("FROM waiter_calls WHERE table_id = $1 AND status IN ($2, $3) LIMIT 1")).
		WithArgs(int64(5), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(callCols).AddRow(
			int64(3), int64(1), int64(5), 5, "service_call", "pending", nil, nil,
			nil, fixedNow.Add(-time.Minute), nil, nil,
		))
	mock.ExpectRollback()

	err := s.CreateWaiterCall(context.Background(), &models.WaiterCall{
		RestaurantID: 1,
		TableID:      5,
		Type:         models.CallTypeService,
	})

	assert.ErrorIs(t, err, ErrActiveCallExists)
	var activeErr *ActiveCallError
	require.ErrorAs(t, err, &activeErr)
	assert.Equal(t, int64(3), activeErr.Call.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledgeWaiterCall_AlreadyAcknowledgedIsNoop(t *testing.T) {
	mock, s := setupMockStore(t)
	ackAt := fixedNow.Add(-30 * time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM waiter_calls WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(callCols).AddRow(
			int64(3), int64(1), int64(5), 5, "service_call", "acknowledged", nil, int64(8),
			nil, fixedNow.Add(-time.Minute), ackAt, nil,
		))
	mock.ExpectCommit()

	call, changed, err := s.AcknowledgeWaiterCall(context.Background(), 3, 9)

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, ackAt, *call.AcknowledgedAt)
	assert.Equal(t, int64(8), *call.AcknowledgedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveWaiterCall_FromPending(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM waiter_calls WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(callCols).AddRow(
			int64(3), int64(1), int64(5), 5, "payment_request", "pending", nil, nil,
			nil, fixedNow.Add(-time.Minute), nil, nil,
		))
	mock.ExpectExec(q("UPDATE waiter_calls SET status = $1, acknowledged_at = $2")).
		WithArgs(sqlmock.AnyArg(), fixedNow, int64(9), fixedNow, int64(9), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	call, err := s.ResolveWaiterCall(context.Background(), 3, 9)

	require.NoError(t, err)
	assert.Equal(t, models.CallStatusResolved, call.Status)
	assert.Equal(t, *call.AcknowledgedAt, *call.ResolvedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_RejectsClosedTable(t *testing.T) {
	mock, s := setupMockStore(t)
	tableID := int64(5)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(tableID).
		WillReturnRows(tableRow(5, models.TableStatusClosed))
	mock.ExpectRollback()

	_, err := s.CreateOrder(context.Background(), &models.Order{
		RestaurantID: 1,
		TableID:      &tableID,
		PlacedBy:     models.PlacedByStaff,
	}, 9)

	assert.ErrorIs(t, err, ErrTableUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}
