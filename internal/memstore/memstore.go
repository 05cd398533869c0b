// Package memstore is an in-process implementation of the floor store. It applies
// the same state machines and returns the same errors as the Postgres store, and
// backs local development runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/statemachine"
	"floor-sync/internal/store"
)

type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64

	tables       map[int64]*models.Table
	tableHistory map[int64][]models.TableStatusEntry
	menu         map[int64]models.MenuItem
	orders       map[int64]*models.Order
	calls        map[int64]*models.WaiterCall
}

// New creates an empty store
func New() *Store {
	return &Store{
		now:          func() time.Time { return time.Now().UTC() },
		tables:       make(map[int64]*models.Table),
		tableHistory: make(map[int64][]models.TableStatusEntry),
		menu:         make(map[int64]models.MenuItem),
		orders:       make(map[int64]*models.Order),
		calls:        make(map[int64]*models.WaiterCall),
	}
}

// SetClock replaces the time source
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddTable seeds a table. A zero status means free.
func (s *Store) AddTable(t models.Table) models.Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == 0 {
		t.ID = s.id()
	}
	if t.Status == "" {
		t.Status = models.TableStatusFree
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.StatusHistory = nil
	s.tables[t.ID] = &t
	return t
}

// AddMenuItem seeds a menu item
func (s *Store) AddMenuItem(m models.MenuItem) models.MenuItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		m.ID = s.id()
	}
	s.menu[m.ID] = m
	return m
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) table(id int64) (*models.Table, error) {
	t, ok := s.tables[id]
	if !ok || t.DeletedAt != nil {
		return nil, fmt.Errorf("table %d: %w", id, store.ErrNotFound)
	}
	return t, nil
}

func (s *Store) GetTable(_ context.Context, id int64) (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(id)
	if err != nil {
		return nil, err
	}
	out := *t
	return &out, nil
}

func (s *Store) ListTables(_ context.Context, restaurantID int64) ([]models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Table{}
	for _, t := range s.tables {
		if t.RestaurantID == restaurantID && t.DeletedAt == nil {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) SoftDeleteTable(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(id)
	if err != nil {
		return err
	}
	now := s.now()
	t.DeletedAt = &now
	return nil
}

func (s *Store) GetTableHistory(_ context.Context, tableID int64) ([]models.TableStatusEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.TableStatusEntry{}, s.tableHistory[tableID]...), nil
}

func (s *Store) UpdateTableStatus(_ context.Context, id int64, tr statemachine.TableTransition) (*models.Table, *statemachine.TableChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(id)
	if err != nil {
		return nil, nil, err
	}
	return s.applyTable(t, tr, s.now())
}

func (s *Store) FreeTable(_ context.Context, id int64, actor int64) (*store.FreedTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(id)
	if err != nil {
		return nil, err
	}
	if t.Status == models.TableStatusFree {
		return nil, fmt.Errorf("%w: table %d is free", statemachine.ErrAlreadyInState, id)
	}

	var served []int64
	inFlight := 0
	for _, o := range s.orders {
		if o.TableID == nil || *o.TableID != id {
			continue
		}
		switch {
		case o.Status.InFlight():
			inFlight++
		case o.Status == models.OrderStatusServed:
			served = append(served, o.ID)
		}
	}
	if inFlight > 0 {
		return nil, fmt.Errorf("%w: table %d has %d", store.ErrTableHasActiveOrders, id, inFlight)
	}
	sort.Slice(served, func(i, j int) bool { return served[i] < served[j] })

	now := s.now()
	freed := &store.FreedTable{}
	for _, orderID := range served {
		order, change, err := s.applyOrder(s.orders[orderID], models.OrderStatusCompleted, actor, now)
		if err != nil {
			return nil, err
		}
		freed.Completed = append(freed.Completed, store.CompletedOrder{Order: order, Change: change})
	}

	freed.Table, freed.Change, err = s.applyTable(t, statemachine.TableTransition{
		NewStatus: models.TableStatusFree,
		Reason:    store.ReasonSessionClosed,
		Actor:     actor,
	}, now)
	if err != nil {
		return nil, err
	}
	return freed, nil
}

func (s *Store) applyTable(t *models.Table, tr statemachine.TableTransition, at time.Time) (*models.Table, *statemachine.TableChange, error) {
	work := *t
	work.StatusHistory = nil
	change, err := statemachine.ApplyTable(&work, tr, at)
	if err != nil {
		return nil, nil, err
	}
	change.Entry.ID = s.id()
	work.StatusHistory[0].ID = change.Entry.ID

	s.tableHistory[t.ID] = append(s.tableHistory[t.ID], change.Entry)
	stored := work
	stored.StatusHistory = nil
	*t = stored

	return &work, change, nil
}

func (s *Store) ListTableOrders(_ context.Context, tableID int64, from time.Time, to *time.Time) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Order{}
	for _, o := range s.orders {
		if o.TableID == nil || *o.TableID != tableID || o.CreatedAt.Before(from) {
			continue
		}
		if to != nil && !o.CreatedAt.Before(*to) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sortOrdersNewestFirst(out)
	return out, nil
}

func (s *Store) GetMenuItemsByIDs(_ context.Context, restaurantID int64, ids []int64) ([]models.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.MenuItem{}
	for _, id := range ids {
		if m, ok := s.menu[id]; ok && m.RestaurantID == restaurantID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) CreateOrder(_ context.Context, order *models.Order, actor int64) (*store.PlacedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	placed := &store.PlacedOrder{Order: order}
	var table *models.Table
	if order.TableID != nil {
		t, err := s.table(*order.TableID)
		if err != nil {
			return nil, err
		}
		if err := tableAcceptsOrder(t, order); err != nil {
			return nil, err
		}
		table = t
	}
	if order.IdempotencyKey != "" {
		for _, o := range s.orders {
			if o.RestaurantID == order.RestaurantID && o.IdempotencyKey == order.IdempotencyKey {
				return nil, fmt.Errorf("duplicate idempotency key %s", order.IdempotencyKey)
			}
		}
	}

	now := s.now()
	order.ID = s.id()
	order.Status = models.OrderStatusPending
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		order.Items[i].ID = s.id()
		order.Items[i].OrderID = order.ID
	}
	order.StatusHistory = []models.OrderStatusEntry{{
		ID:        s.id(),
		OrderID:   order.ID,
		Status:    models.OrderStatusPending,
		ChangedBy: actor,
		ChangedAt: now,
	}}

	stored := copyOrder(order)
	s.orders[order.ID] = &stored

	if table != nil {
		placed.Table = table
		if table.Status == models.TableStatusFree {
			updated, change, err := s.applyTable(table, statemachine.TableTransition{
				NewStatus: models.TableStatusOccupied,
				Reason:    store.ReasonOrderPlaced,
				Actor:     actor,
			}, now)
			if err != nil {
				return nil, err
			}
			placed.Table = updated
			placed.TableChange = change
		} else {
			t := *table
			placed.Table = &t
		}
	}

	return placed, nil
}

func tableAcceptsOrder(t *models.Table, order *models.Order) error {
	if t.RestaurantID != order.RestaurantID {
		return fmt.Errorf("%w: table %d belongs to another restaurant", store.ErrTableUnavailable, t.ID)
	}
	switch t.Status {
	case models.TableStatusClosed:
		return fmt.Errorf("%w: table %d is closed", store.ErrTableUnavailable, t.ID)
	case models.TableStatusCleaning:
		if order.PlacedBy != models.PlacedByStaff {
			return fmt.Errorf("%w: table %d is being cleaned", store.ErrTableUnavailable, t.ID)
		}
	}
	return nil
}

func (s *Store) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	out := copyOrder(o)
	return &out, nil
}

func (s *Store) GetOrderByIdempotencyKey(_ context.Context, restaurantID int64, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.RestaurantID == restaurantID && o.IdempotencyKey == key {
			out := copyOrder(o)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id int64, to models.OrderStatus, actor int64) (*models.Order, *statemachine.OrderChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}

	return s.applyOrder(o, to, actor, s.now())
}

func (s *Store) applyOrder(o *models.Order, to models.OrderStatus, actor int64, at time.Time) (*models.Order, *statemachine.OrderChange, error) {
	work := copyOrder(o)
	change, err := statemachine.ApplyOrder(&work, to, actor, at)
	if err != nil {
		return nil, nil, err
	}
	change.Entry.ID = s.id()
	work.StatusHistory[len(work.StatusHistory)-1].ID = change.Entry.ID

	stored := copyOrder(&work)
	s.orders[o.ID] = &stored
	return &work, change, nil
}

func (s *Store) ListOrdersByStatus(_ context.Context, restaurantID int64, statuses []models.OrderStatus, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[models.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	out := []models.Order{}
	for _, o := range s.orders {
		if o.RestaurantID == restaurantID && want[o.Status] {
			out = append(out, copyOrder(o))
		}
	}
	sortOrdersNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountOrdersByStatus(_ context.Context, restaurantID int64, status models.OrderStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, o := range s.orders {
		if o.RestaurantID == restaurantID && o.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateWaiterCall(_ context.Context, call *models.WaiterCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(call.TableID)
	if err != nil {
		return err
	}
	if t.RestaurantID != call.RestaurantID {
		return fmt.Errorf("table %d: %w", call.TableID, store.ErrNotFound)
	}
	for _, c := range s.calls {
		if c.TableID == call.TableID && c.Status.Active() {
			existing := *c
			return &store.ActiveCallError{Call: &existing}
		}
	}

	call.ID = s.id()
	call.TableNumber = t.Number
	call.Status = models.CallStatusPending
	call.CreatedAt = s.now()
	if call.StaffID == nil {
		call.StaffID = t.AssignedStaff
	}

	stored := *call
	s.calls[call.ID] = &stored
	return nil
}

func (s *Store) GetWaiterCall(_ context.Context, id int64) (*models.WaiterCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return nil, fmt.Errorf("waiter call %d: %w", id, store.ErrNotFound)
	}
	out := *c
	return &out, nil
}

func (s *Store) AcknowledgeWaiterCall(_ context.Context, id, actor int64) (*models.WaiterCall, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return nil, false, fmt.Errorf("waiter call %d: %w", id, store.ErrNotFound)
	}
	work := *c
	changed, err := statemachine.AcknowledgeCall(&work, actor, s.now())
	if err != nil {
		return nil, false, err
	}
	*c = work
	return &work, changed, nil
}

func (s *Store) ResolveWaiterCall(_ context.Context, id, actor int64) (*models.WaiterCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return nil, fmt.Errorf("waiter call %d: %w", id, store.ErrNotFound)
	}
	work := *c
	if err := statemachine.ResolveCall(&work, actor, s.now()); err != nil {
		return nil, err
	}
	*c = work
	return &work, nil
}

func (s *Store) ListActiveWaiterCalls(_ context.Context, restaurantID int64, staffID *int64) ([]models.WaiterCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.WaiterCall{}
	for _, c := range s.calls {
		if c.RestaurantID != restaurantID || !c.Status.Active() {
			continue
		}
		if staffID != nil && c.StaffID != nil && *c.StaffID != *staffID {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListWaiterCallHistory(_ context.Context, restaurantID int64, from, to time.Time, limit int) ([]models.WaiterCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	out := []models.WaiterCall{}
	for _, c := range s.calls {
		if c.RestaurantID == restaurantID && !c.CreatedAt.Before(from) && !c.CreatedAt.After(to) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyOrder(o *models.Order) models.Order {
	out := *o
	out.Items = append([]models.OrderItem(nil), o.Items...)
	out.StatusHistory = append([]models.OrderStatusEntry(nil), o.StatusHistory...)
	return out
}

func sortOrdersNewestFirst(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
