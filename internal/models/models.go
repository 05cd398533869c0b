package models

import "time"

// TableStatus is the raw stored status of a table
type TableStatus string

const (
	TableStatusFree     TableStatus = "free"
	TableStatusOccupied TableStatus = "occupied"
	TableStatusReserved TableStatus = "reserved"
	TableStatusCleaning TableStatus = "cleaning"
	TableStatusClosed   TableStatus = "closed"
)

// Valid reports whether s is a known table status
func (s TableStatus) Valid() bool {
	switch s {
	case TableStatusFree, TableStatusOccupied, TableStatusReserved, TableStatusCleaning, TableStatusClosed:
		return true
	}
	return false
}

// OrderStatus is the status of an order in the kitchen pipeline
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusServed, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Active reports whether the order still belongs on the floor (not completed or cancelled)
func (s OrderStatus) Active() bool {
	return s.Valid() && !s.Terminal()
}

// InFlight reports whether the kitchen is still working on the order
func (s OrderStatus) InFlight() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady:
		return true
	}
	return false
}

// ActiveOrderStatuses lists the statuses kept in live order lists
var ActiveOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusServed,
}

// InFlightOrderStatuses lists the statuses that block freeing a table
var InFlightOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
}

// CallType distinguishes a plain service call from a bill request
type CallType string

const (
	CallTypeService CallType = "service_call"
	CallTypePayment CallType = "payment_request"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeService || t == CallTypePayment
}

// CallStatus is the status of a waiter call
type CallStatus string

const (
	CallStatusPending      CallStatus = "pending"
	CallStatusAcknowledged CallStatus = "acknowledged"
	CallStatusResolved     CallStatus = "resolved"
)

// Active reports whether the call still shows in active-call lists
func (s CallStatus) Active() bool {
	return s == CallStatusPending || s == CallStatusAcknowledged
}

// Table represents a physical table on the floor
type Table struct {
	ID            int64       `db:"id" json:"id"`
	RestaurantID  int64       `db:"restaurant_id" json:"restaurant_id"`
	Number        int         `db:"number" json:"number"`
	Capacity      int         `db:"capacity" json:"capacity"`
	Location      string      `db:"location" json:"location"`
	Type          string      `db:"type" json:"type"`
	Status        TableStatus `db:"status" json:"status"`
	AssignedStaff *int64      `db:"assigned_staff_id" json:"assigned_staff_id,omitempty"`
	Accessible    bool        `db:"accessible" json:"accessible"`
	Joinable      bool        `db:"joinable" json:"joinable"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`

	StatusHistory []TableStatusEntry `db:"-" json:"status_history,omitempty"`
}

// TableStatusEntry is one row of a table's append-only status history
type TableStatusEntry struct {
	ID        int64       `db:"id" json:"id"`
	TableID   int64       `db:"table_id" json:"table_id"`
	Status    TableStatus `db:"status" json:"status"`
	Reason    string      `db:"reason" json:"reason,omitempty"`
	ChangedBy int64       `db:"changed_by" json:"changed_by"`
	ChangedAt time.Time   `db:"changed_at" json:"changed_at"`
}

// MenuItem is the read-only view of the external menu used to snapshot prices
type MenuItem struct {
	ID           int64  `db:"id" json:"id"`
	RestaurantID int64  `db:"restaurant_id" json:"restaurant_id"`
	Name         string `db:"name" json:"name"`
	Price        int64  `db:"price" json:"price"`
	Available    bool   `db:"available" json:"available"`
}

// Order represents a placed order. Amounts are in minor currency units.
type Order struct {
	ID             int64       `db:"id" json:"id"`
	RestaurantID   int64       `db:"restaurant_id" json:"restaurant_id"`
	TableID        *int64      `db:"table_id" json:"table_id,omitempty"`
	Status         OrderStatus `db:"status" json:"status"`
	Subtotal       int64       `db:"subtotal" json:"subtotal"`
	Discount       int64       `db:"discount" json:"discount"`
	Tax            int64       `db:"tax" json:"tax"`
	ServiceCharge  int64       `db:"service_charge" json:"service_charge"`
	Total          int64       `db:"total" json:"total"`
	PlacedBy       string      `db:"placed_by" json:"placed_by"`
	IdempotencyKey string      `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ReadyAt        *time.Time  `db:"ready_at" json:"ready_at,omitempty"`
	CompletedAt    *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`

	Items         []OrderItem        `db:"-" json:"items,omitempty"`
	StatusHistory []OrderStatusEntry `db:"-" json:"status_history,omitempty"`
}

// OrderItem is a line item with the price captured at order time
type OrderItem struct {
	ID         int64  `db:"id" json:"id"`
	OrderID    int64  `db:"order_id" json:"order_id"`
	MenuItemID int64  `db:"menu_item_id" json:"menu_item_id"`
	Name       string `db:"name" json:"name"`
	Quantity   int    `db:"quantity" json:"quantity"`
	UnitPrice  int64  `db:"unit_price" json:"unit_price"`
}

// OrderStatusEntry is one row of an order's append-only status history
type OrderStatusEntry struct {
	ID        int64       `db:"id" json:"id"`
	OrderID   int64       `db:"order_id" json:"order_id"`
	Status    OrderStatus `db:"status" json:"status"`
	ChangedBy int64       `db:"changed_by" json:"changed_by"`
	ChangedAt time.Time   `db:"changed_at" json:"changed_at"`
}

// Order placement sources
const (
	PlacedByCustomer = "customer"
	PlacedByStaff    = "staff"
)

// WaiterCall is a request for staff assistance raised from a table
type WaiterCall struct {
	ID             int64      `db:"id" json:"id"`
	RestaurantID   int64      `db:"restaurant_id" json:"restaurant_id"`
	TableID        int64      `db:"table_id" json:"table_id"`
	TableNumber    int        `db:"table_number" json:"table_number"`
	Type           CallType   `db:"type" json:"type"`
	Status         CallStatus `db:"status" json:"status"`
	StaffID        *int64     `db:"staff_id" json:"staff_id,omitempty"`
	AcknowledgedBy *int64     `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	ResolvedBy     *int64     `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// TableSession is the derived span between a table becoming occupied and being freed
type TableSession struct {
	TableID         int64      `json:"table_id"`
	StartedAt       time.Time  `json:"started_at"`
	StartedBy       int64      `json:"started_by"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndedBy         *int64     `json:"ended_by,omitempty"`
	OrderCount      int        `json:"order_count"`
	TotalRevenue    int64      `json:"total_revenue"`
	DurationMinutes int        `json:"duration_minutes"`
	Orders          []Order    `json:"orders,omitempty"`
}

// Active reports whether the session has not been closed yet
func (s *TableSession) Active() bool {
	return s.EndedAt == nil
}
