package service

import (
	"context"
	"fmt"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/util"

	"go.uber.org/zap"
)

// WaiterCallService handles waiter assistance calls
type WaiterCallService struct {
	store     CallStore
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewWaiterCallService creates a new waiter call service
func NewWaiterCallService(store CallStore, publisher Publisher) *WaiterCallService {
	return &WaiterCallService{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    util.GetLogger(),
	}
}

// CreateCallRequest represents a call raised from a table
type CreateCallRequest struct {
	TableID int64           `json:"table_id" binding:"required"`
	Type    models.CallType `json:"type" binding:"required"`
}

// Create raises a call. A table with an open call gets store.ErrActiveCallExists.
func (s *WaiterCallService) Create(ctx context.Context, restaurantID int64, req *CreateCallRequest) (*models.WaiterCall, error) {
	ctx, span := util.StartSpan(ctx, "WaiterCallService.Create")
	defer span.End()

	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown call type %q", ErrInvalidInput, req.Type)
	}

	call := &models.WaiterCall{
		RestaurantID: restaurantID,
		TableID:      req.TableID,
		Type:         req.Type,
	}
	if err := s.store.CreateWaiterCall(ctx, call); err != nil {
		util.TransitionsRejectedTotal.WithLabelValues("waiter_call", rejectReason(err)).Inc()
		return nil, err
	}

	util.WaiterCallsCreatedTotal.WithLabelValues(string(call.Type)).Inc()
	s.logger.Info("Waiter call raised",
		zap.Int64("call_id", call.ID),
		zap.Int64("table_id", call.TableID),
		zap.String("type", string(call.Type)))

	err := s.publisher.Publish(ctx, restaurantID, models.EventTypeWaiterCall, models.WaiterCallEvent{
		CallID:      call.ID,
		TableID:     call.TableID,
		TableNumber: call.TableNumber,
		Type:        call.Type,
		StaffID:     call.StaffID,
		CreatedAt:   call.CreatedAt,
	})
	if err != nil {
		s.logger.Error("Failed to publish waiter:call event", zap.Int64("call_id", call.ID), zap.Error(err))
	}

	return call, nil
}

// Acknowledge marks a pending call acknowledged. Acknowledging an acknowledged call
// returns it unchanged and broadcasts nothing.
func (s *WaiterCallService) Acknowledge(ctx context.Context, callID, actor int64) (*models.WaiterCall, error) {
	ctx, span := util.StartSpan(ctx, "WaiterCallService.Acknowledge")
	defer span.End()

	call, changed, err := s.store.AcknowledgeWaiterCall(ctx, callID, actor)
	if err != nil {
		util.TransitionsRejectedTotal.WithLabelValues("waiter_call", rejectReason(err)).Inc()
		return nil, err
	}
	if !changed {
		s.logger.Debug("Waiter call already acknowledged", zap.Int64("call_id", callID))
		return call, nil
	}

	err = s.publisher.Publish(ctx, call.RestaurantID, models.EventTypeWaiterCallAcknowledged, models.WaiterCallAcknowledgedEvent{
		CallID:         call.ID,
		TableID:        call.TableID,
		AcknowledgedBy: actor,
		AcknowledgedAt: *call.AcknowledgedAt,
		CreatedAt:      call.CreatedAt,
	})
	if err != nil {
		s.logger.Error("Failed to publish waiter:call:acknowledged event", zap.Int64("call_id", call.ID), zap.Error(err))
	}

	return call, nil
}

// Resolve closes a call, acknowledging it first when it was still pending
func (s *WaiterCallService) Resolve(ctx context.Context, callID, actor int64) (*models.WaiterCall, error) {
	ctx, span := util.StartSpan(ctx, "WaiterCallService.Resolve")
	defer span.End()

	call, err := s.store.ResolveWaiterCall(ctx, callID, actor)
	if err != nil {
		util.TransitionsRejectedTotal.WithLabelValues("waiter_call", rejectReason(err)).Inc()
		return nil, err
	}

	err = s.publisher.Publish(ctx, call.RestaurantID, models.EventTypeWaiterCallResolved, models.WaiterCallResolvedEvent{
		CallID:         call.ID,
		TableID:        call.TableID,
		ResolvedBy:     actor,
		AcknowledgedAt: *call.AcknowledgedAt,
		ResolvedAt:     *call.ResolvedAt,
		CreatedAt:      call.CreatedAt,
	})
	if err != nil {
		s.logger.Error("Failed to publish waiter:call:resolved event", zap.Int64("call_id", call.ID), zap.Error(err))
	}

	return call, nil
}

// ListActive returns pending and acknowledged calls, oldest first
func (s *WaiterCallService) ListActive(ctx context.Context, restaurantID int64, staffID *int64) ([]models.WaiterCall, error) {
	ctx, span := util.StartSpan(ctx, "WaiterCallService.ListActive")
	defer span.End()

	return s.store.ListActiveWaiterCalls(ctx, restaurantID, staffID)
}

// History returns calls created in [from, to]. Zero bounds default to the last 24 hours.
func (s *WaiterCallService) History(ctx context.Context, restaurantID int64, from, to time.Time, limit int) ([]models.WaiterCall, error) {
	ctx, span := util.StartSpan(ctx, "WaiterCallService.History")
	defer span.End()

	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from is after to", ErrInvalidInput)
	}

	return s.store.ListWaiterCallHistory(ctx, restaurantID, from, to, limit)
}
