package service

import (
	"context"
	"fmt"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/statemachine"
	"floor-sync/internal/store"
	"floor-sync/internal/util"

	"go.uber.org/zap"
)

// TableService handles table status changes and sessions
type TableService struct {
	store     TableStore
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewTableService creates a new table service
func NewTableService(store TableStore, publisher Publisher) *TableService {
	return &TableService{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    util.GetLogger(),
	}
}

// UpdateStatusRequest is the body of a manual status change
type UpdateStatusRequest struct {
	Status models.TableStatus `json:"status" binding:"required"`
	Reason string             `json:"reason,omitempty"`
}

// GetTable retrieves a table with its status history
func (s *TableService) GetTable(ctx context.Context, tableID int64) (*models.Table, error) {
	ctx, span := util.StartSpan(ctx, "TableService.GetTable")
	defer span.End()

	table, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	table.StatusHistory, err = s.store.GetTableHistory(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to load table history: %w", err)
	}
	return table, nil
}

// ListTables retrieves the tables of a restaurant
func (s *TableService) ListTables(ctx context.Context, restaurantID int64) ([]models.Table, error) {
	ctx, span := util.StartSpan(ctx, "TableService.ListTables")
	defer span.End()

	return s.store.ListTables(ctx, restaurantID)
}

// DeleteTable removes a table from the floor. Its history is kept.
func (s *TableService) DeleteTable(ctx context.Context, tableID int64) error {
	ctx, span := util.StartSpan(ctx, "TableService.DeleteTable")
	defer span.End()

	if err := s.store.SoftDeleteTable(ctx, tableID); err != nil {
		return err
	}
	s.logger.Info("Table deleted", zap.Int64("table_id", tableID))
	return nil
}

// UpdateStatus applies a manual status change and broadcasts it
func (s *TableService) UpdateStatus(ctx context.Context, tableID int64, req *UpdateStatusRequest, actor int64) (*models.Table, error) {
	ctx, span := util.StartSpan(ctx, "TableService.UpdateStatus")
	defer span.End()

	if !req.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", statemachine.ErrUnknownStatus, req.Status)
	}
	if req.Reason == "" && statemachine.ReasonRecommended(req.Status) {
		s.logger.Warn("Table status change without reason",
			zap.Int64("table_id", tableID),
			zap.String("status", string(req.Status)))
	}

	table, change, err := s.store.UpdateTableStatus(ctx, tableID, statemachine.TableTransition{
		NewStatus: req.Status,
		Reason:    req.Reason,
		Actor:     actor,
	})
	if err != nil {
		util.TransitionsRejectedTotal.WithLabelValues("table", rejectReason(err)).Inc()
		return nil, err
	}

	publishTableChange(ctx, s.publisher, s.logger, table, change)
	return table, nil
}

// Free ends the table's session and returns the table with the closed session.
// Served orders on the table are completed with it.
func (s *TableService) Free(ctx context.Context, tableID int64, actor int64) (*models.Table, *models.TableSession, error) {
	ctx, span := util.StartSpan(ctx, "TableService.Free")
	defer span.End()

	freed, err := s.store.FreeTable(ctx, tableID, actor)
	if err != nil {
		util.TransitionsRejectedTotal.WithLabelValues("table", rejectReason(err)).Inc()
		return nil, nil, err
	}

	for _, done := range freed.Completed {
		publishOrderChange(ctx, s.publisher, s.logger, done.Order, done.Change)
	}
	table := freed.Table
	publishTableChange(ctx, s.publisher, s.logger, table, freed.Change)

	sessions, err := s.sessions(ctx, tableID)
	if err != nil {
		s.logger.Warn("Failed to summarize closed session", zap.Int64("table_id", tableID), zap.Error(err))
		return table, nil, nil
	}
	if len(sessions) == 0 {
		return table, nil, nil
	}

	closed := sessions[len(sessions)-1]
	s.logger.Info("Table session closed",
		zap.Int64("table_id", tableID),
		zap.Int("order_count", closed.OrderCount),
		zap.Int64("total_revenue", closed.TotalRevenue),
		zap.Int("duration_minutes", closed.DurationMinutes))
	return table, &closed, nil
}

// CurrentSession returns the open session of a table
func (s *TableService) CurrentSession(ctx context.Context, tableID int64) (*models.TableSession, error) {
	ctx, span := util.StartSpan(ctx, "TableService.CurrentSession")
	defer span.End()

	sessions, err := s.sessions(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 || !sessions[len(sessions)-1].Active() {
		return nil, fmt.Errorf("table %d has no active session: %w", tableID, store.ErrNotFound)
	}
	current := sessions[len(sessions)-1]
	return &current, nil
}

// SessionHistory returns closed sessions, newest first. page starts at 1.
func (s *TableService) SessionHistory(ctx context.Context, tableID int64, page, limit int) ([]models.TableSession, int, error) {
	ctx, span := util.StartSpan(ctx, "TableService.SessionHistory")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	sessions, err := s.sessions(ctx, tableID)
	if err != nil {
		return nil, 0, err
	}

	closed := make([]models.TableSession, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		if !sessions[i].Active() {
			closed = append(closed, sessions[i])
		}
	}

	total := len(closed)
	start := (page - 1) * limit
	if start >= total {
		return []models.TableSession{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return closed[start:end], total, nil
}

func (s *TableService) sessions(ctx context.Context, tableID int64) ([]models.TableSession, error) {
	if _, err := s.store.GetTable(ctx, tableID); err != nil {
		return nil, err
	}

	history, err := s.store.GetTableHistory(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to load table history: %w", err)
	}

	var from time.Time
	for _, entry := range history {
		if entry.Status == models.TableStatusOccupied {
			from = entry.ChangedAt
			break
		}
	}
	if from.IsZero() {
		return nil, nil
	}

	orders, err := s.store.ListTableOrders(ctx, tableID, from, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load table orders: %w", err)
	}

	return BuildSessions(tableID, history, orders, s.now()), nil
}

// publishTableChange records and broadcasts a committed table transition
func publishTableChange(ctx context.Context, publisher Publisher, logger *zap.Logger, table *models.Table, change *statemachine.TableChange) {
	util.TableTransitionsTotal.WithLabelValues(string(change.Previous), string(table.Status)).Inc()

	logger.Info("Table status changed",
		zap.Int64("table_id", table.ID),
		zap.String("from", string(change.Previous)),
		zap.String("to", string(table.Status)),
		zap.String("reason", change.Entry.Reason))

	err := publisher.Publish(ctx, table.RestaurantID, models.EventTypeTableStatusUpdated, models.TableStatusUpdatedEvent{
		TableID:        table.ID,
		TableNumber:    table.Number,
		Status:         table.Status,
		PreviousStatus: change.Previous,
		Reason:         change.Entry.Reason,
		ChangedBy:      change.Entry.ChangedBy,
		Timestamp:      change.Entry.ChangedAt,
	})
	if err != nil {
		logger.Error("Failed to publish table status event", zap.Int64("table_id", table.ID), zap.Error(err))
	}
}
