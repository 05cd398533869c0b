package statemachine

import (
	"fmt"
	"time"

	"floor-sync/internal/models"
)

// orderTransitions lists every legal edge of the order pipeline
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed: {models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPreparing: {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:     {models.OrderStatusServed, models.OrderStatusCancelled},
	models.OrderStatusServed:    {models.OrderStatusCompleted},
	models.OrderStatusCompleted: nil,
	models.OrderStatusCancelled: nil,
}

// CanTransitionOrder reports whether from -> to is an edge of the pipeline
func CanTransitionOrder(from, to models.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextOrderStatuses returns the statuses reachable from s in one step
func NextOrderStatuses(s models.OrderStatus) []models.OrderStatus {
	next := orderTransitions[s]
	out := make([]models.OrderStatus, len(next))
	copy(out, next)
	return out
}

// OrderChange describes an applied order transition
type OrderChange struct {
	Old   models.OrderStatus
	Entry models.OrderStatusEntry
}

// ApplyOrder moves order to status `to` when the pipeline allows it
func ApplyOrder(order *models.Order, to models.OrderStatus, actor int64, at time.Time) (*OrderChange, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: order status %q", ErrUnknownStatus, to)
	}
	if order.Status == to {
		return nil, fmt.Errorf("%w: order %d is %s", ErrAlreadyInState, order.ID, order.Status)
	}
	if !CanTransitionOrder(order.Status, to) {
		return nil, fmt.Errorf("%w: order %d %s -> %s", ErrInvalidTransition, order.ID, order.Status, to)
	}

	change := &OrderChange{
		Old: order.Status,
		Entry: models.OrderStatusEntry{
			OrderID:   order.ID,
			Status:    to,
			ChangedBy: actor,
			ChangedAt: at,
		},
	}

	order.Status = to
	order.UpdatedAt = at
	switch to {
	case models.OrderStatusReady:
		order.ReadyAt = &at
	case models.OrderStatusCompleted:
		order.CompletedAt = &at
	}
	order.StatusHistory = append(order.StatusHistory, change.Entry)

	return change, nil
}
