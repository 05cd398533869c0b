package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Floor event types broadcast on a restaurant channel
const (
	EventTypeTableStatusUpdated     = "table:status-updated"
	EventTypeOrderNew               = "order:new"
	EventTypeOrderUpdated           = "order:updated"
	EventTypeWaiterCall             = "waiter:call"
	EventTypeWaiterCallAcknowledged = "waiter:call:acknowledged"
	EventTypeWaiterCallResolved     = "waiter:call:resolved"
)

// Session control messages exchanged between a terminal and the gateway
const (
	EventTypeJoinRestaurant   = "join:restaurant"
	EventTypeJoinedRestaurant = "joined:restaurant"
	EventTypeLeaveRestaurant  = "leave:restaurant"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	RestaurantID int64     `json:"restaurant_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// Envelope is the wire form of an event on the bus and on terminal sessions
type Envelope struct {
	BaseEvent
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps payload into an envelope addressed to a restaurant channel
func NewEnvelope(restaurantID int64, eventType string, payload interface{}) (*Envelope, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		data = raw
	}

	return &Envelope{
		BaseEvent: BaseEvent{
			EventID:      uuid.New().String(),
			EventType:    eventType,
			RestaurantID: restaurantID,
			Timestamp:    time.Now().UTC(),
		},
		Data: data,
	}, nil
}

// Decode unmarshals the payload into v
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.EventType)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.EventType, err)
	}
	return nil
}

// TableStatusUpdatedEvent published when a table changes status
type TableStatusUpdatedEvent struct {
	TableID        int64       `json:"table_id"`
	TableNumber    int         `json:"table_number"`
	Status         TableStatus `json:"status"`
	PreviousStatus TableStatus `json:"previous_status,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	ChangedBy      int64       `json:"changed_by"`
	Timestamp      time.Time   `json:"timestamp"`
}

// OrderNewEvent published when an order is placed
type OrderNewEvent struct {
	OrderID     int64       `json:"order_id"`
	TableID     *int64      `json:"table_id,omitempty"`
	TableNumber int         `json:"table_number,omitempty"`
	Status      OrderStatus `json:"status"`
	Total       int64       `json:"total"`
	CreatedAt   time.Time   `json:"created_at"`
}

// OrderUpdatedEvent published on every order status transition.
// OldStatus is optional on the wire; consumers re-fetch when it is missing.
type OrderUpdatedEvent struct {
	OrderID   int64        `json:"order_id"`
	TableID   *int64       `json:"table_id,omitempty"`
	OldStatus *OrderStatus `json:"old_status,omitempty"`
	Status    OrderStatus  `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	CreatedAt time.Time    `json:"created_at"`
}

// WaiterCallEvent published when a table calls for staff
type WaiterCallEvent struct {
	CallID      int64     `json:"call_id"`
	TableID     int64     `json:"table_id"`
	TableNumber int       `json:"table_number"`
	Type        CallType  `json:"type"`
	StaffID     *int64    `json:"staff_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WaiterCallAcknowledgedEvent published when staff acknowledge a call
type WaiterCallAcknowledgedEvent struct {
	CallID         int64     `json:"call_id"`
	TableID        int64     `json:"table_id"`
	AcknowledgedBy int64     `json:"acknowledged_by"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// WaiterCallResolvedEvent published when a call is resolved
type WaiterCallResolvedEvent struct {
	CallID         int64     `json:"call_id"`
	TableID        int64     `json:"table_id"`
	ResolvedBy     int64     `json:"resolved_by"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
	ResolvedAt     time.Time `json:"resolved_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// JoinRestaurantMessage is sent by a terminal to join its tenant channel
type JoinRestaurantMessage struct {
	RestaurantID int64 `json:"restaurant_id"`
}

// JoinedRestaurantMessage confirms channel membership to the terminal
type JoinedRestaurantMessage struct {
	RestaurantID int64  `json:"restaurant_id"`
	SessionID    string `json:"session_id"`
}
