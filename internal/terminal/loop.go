package terminal

import (
	"context"
	"sort"

	"floor-sync/internal/alarm"
	"floor-sync/internal/models"
	"floor-sync/internal/tablestatus"

	"go.uber.org/zap"
)

type message interface{}

type (
	eventMsg struct {
		conn uint64
		env  *models.Envelope
	}
	connectedMsg    struct{ conn uint64 }
	disconnectedMsg struct {
		conn uint64
		err  error
	}
	streamEndedMsg struct{ err error }
	pollMsg        struct{}
	snapshotMsg    struct{ reply chan Snapshot }
	ackAlertMsg    struct{ orderID int64 }
	appliedMsg     struct {
		order *models.Order
		table *models.Table
		call  *models.WaiterCall
	}
	fetchResult struct {
		kind   fetchKind
		gen    uint64
		seq    uint64
		orders []models.Order
		tables []models.Table
		calls  []models.WaiterCall
		count  int
		err    error
	}
)

type fetchKind int

const (
	fetchOrders fetchKind = iota
	fetchTables
	fetchCalls
	fetchPendingCount
)

func (k fetchKind) String() string {
	switch k {
	case fetchOrders:
		return "orders"
	case fetchTables:
		return "tables"
	case fetchCalls:
		return "calls"
	default:
		return "pending_count"
	}
}

func (t *Terminal) loop() {
	defer t.wg.Done()
	defer t.fetchCancel()

	for {
		select {
		case <-t.ctx.Done():
			return
		case m := <-t.inbox:
			t.handle(m)
		}
	}
}

func (t *Terminal) handle(m message) {
	switch m := m.(type) {
	case connectedMsg:
		t.onConnected(m.conn)
	case disconnectedMsg:
		t.onDisconnected(m.conn, m.err)
	case streamEndedMsg:
		t.logger.Error("Floor stream unavailable, continuing on polling only", zap.Error(m.err))
		t.reconnecting = false
		t.resync()
		t.markJoined()
	case eventMsg:
		if !t.connected || m.conn != t.conn {
			t.logger.Debug("Dropping event from stale connection", zap.String("event_type", m.env.EventType))
			return
		}
		t.applyEvent(m.env)
	case pollMsg:
		if t.reconnecting {
			t.logger.Debug("Skipping re-sync until the floor channel is joined")
		} else {
			t.resync()
		}
	case fetchResult:
		t.applyFetch(m)
	case appliedMsg:
		t.applyMutation(m)
	case ackAlertMsg:
		delete(t.alerts, m.orderID)
	case snapshotMsg:
		m.reply <- t.snapshot()
		return
	}
	t.refreshAlarm()
}

func (t *Terminal) onConnected(conn uint64) {
	t.connected = true
	t.reconnecting = false
	t.conn = conn
	t.newGeneration()
	t.logger.Info("Terminal joined floor channel", zap.Uint64("connection", conn))
	t.resync()
	t.markJoined()
}

func (t *Terminal) onDisconnected(conn uint64, err error) {
	if conn != t.conn {
		return
	}
	t.connected = false
	t.reconnecting = true
	t.newGeneration()
	t.logger.Warn("Terminal lost floor channel", zap.Uint64("connection", conn), zap.Error(err))
}

// newGeneration cancels in-flight fetches; their results will be discarded
func (t *Terminal) newGeneration() {
	t.gen++
	t.fetchCancel()
	t.fetchCtx, t.fetchCancel = context.WithCancel(t.ctx)
}

func (t *Terminal) resync() {
	t.fetch(fetchOrders)
	t.fetch(fetchTables)
	t.fetch(fetchCalls)
	t.fetch(fetchPendingCount)
}

// fetch issues an authoritative read off the loop
func (t *Terminal) fetch(kind fetchKind) {
	res := fetchResult{kind: kind, gen: t.gen}
	switch kind {
	case fetchOrders:
		res.seq = t.orders.begin()
	case fetchTables:
		res.seq = t.tables.begin()
	case fetchCalls:
		res.seq = t.calls.begin()
	case fetchPendingCount:
		t.countIssued++
		res.seq = t.countIssued
	}

	ctx := t.fetchCtx
	rid := t.opts.RestaurantID
	go func() {
		switch kind {
		case fetchOrders:
			res.orders, res.err = t.api.ListOrders(ctx, rid, models.ActiveOrderStatuses)
		case fetchTables:
			res.tables, res.err = t.api.ListTables(ctx, rid)
		case fetchCalls:
			res.calls, res.err = t.api.ActiveCalls(ctx, rid, t.opts.StaffID)
		case fetchPendingCount:
			res.count, res.err = t.api.CountOrders(ctx, rid, models.OrderStatusPending)
		}
		t.post(res)
	}()
}

func (t *Terminal) applyFetch(r fetchResult) {
	if r.gen != t.gen {
		t.logger.Debug("Discarding fetch from previous connection", zap.Stringer("kind", r.kind))
		return
	}
	if r.err != nil {
		t.logger.Warn("Fetch failed, keeping stale view", zap.Stringer("kind", r.kind), zap.Error(r.err))
		return
	}

	switch r.kind {
	case fetchOrders:
		if t.orders.replace(r.seq, r.orders) {
			t.pruneAlerts()
		}
	case fetchTables:
		t.tables.replace(r.seq, r.tables)
	case fetchCalls:
		t.calls.replace(r.seq, r.calls)
	case fetchPendingCount:
		if r.seq <= t.countApplied {
			return
		}
		t.countApplied = r.seq
		t.pendingCount = r.count
	}
	t.lastSync = t.opts.Clock.Now()
}

func (t *Terminal) applyEvent(env *models.Envelope) {
	var err error
	switch env.EventType {
	case models.EventTypeTableStatusUpdated:
		var ev models.TableStatusUpdatedEvent
		if err = env.Decode(&ev); err == nil {
			t.onTableStatus(&ev)
		}
	case models.EventTypeOrderNew:
		var ev models.OrderNewEvent
		if err = env.Decode(&ev); err == nil {
			t.onOrderNew(env, &ev)
		}
	case models.EventTypeOrderUpdated:
		var ev models.OrderUpdatedEvent
		if err = env.Decode(&ev); err == nil {
			t.onOrderUpdated(&ev)
		}
	case models.EventTypeWaiterCall:
		var ev models.WaiterCallEvent
		if err = env.Decode(&ev); err == nil {
			t.onCall(env, &ev)
		}
	case models.EventTypeWaiterCallAcknowledged:
		var ev models.WaiterCallAcknowledgedEvent
		if err = env.Decode(&ev); err == nil {
			t.onCallAcknowledged(&ev)
		}
	case models.EventTypeWaiterCallResolved:
		var ev models.WaiterCallResolvedEvent
		if err = env.Decode(&ev); err == nil {
			t.onCallResolved(&ev)
		}
	default:
		t.logger.Debug("Ignoring event", zap.String("event_type", env.EventType))
	}
	if err != nil {
		t.logger.Warn("Malformed event", zap.String("event_type", env.EventType), zap.Error(err))
	}
}

func (t *Terminal) onTableStatus(ev *models.TableStatusUpdatedEvent) {
	table, ok := t.tables.get(ev.TableID)
	if !ok {
		t.fetch(fetchTables)
		return
	}
	if ev.Timestamp.Before(table.UpdatedAt) {
		return
	}
	table.Status = ev.Status
	table.UpdatedAt = ev.Timestamp
	t.tables.put(table)
}

func (t *Terminal) onOrderNew(env *models.Envelope, ev *models.OrderNewEvent) {
	if _, ok := t.orders.get(ev.OrderID); !ok {
		t.orders.put(models.Order{
			ID:           ev.OrderID,
			RestaurantID: env.RestaurantID,
			TableID:      ev.TableID,
			Status:       ev.Status,
			Total:        ev.Total,
			CreatedAt:    ev.CreatedAt,
			UpdatedAt:    ev.CreatedAt,
		})
	}
	if ev.Status == models.OrderStatusPending {
		if _, seen := t.alerts[ev.OrderID]; !seen {
			t.alerts[ev.OrderID] = ev.CreatedAt
		}
	}
	if ev.TableID != nil {
		if _, ok := t.tables.get(*ev.TableID); !ok {
			t.fetch(fetchTables)
		}
	}
	t.fetch(fetchPendingCount)
}

func (t *Terminal) onOrderUpdated(ev *models.OrderUpdatedEvent) {
	order, known := t.orders.get(ev.OrderID)
	refetch := !known || ev.OldStatus == nil || order.Status != *ev.OldStatus

	if known && !ev.Timestamp.Before(order.UpdatedAt) {
		order.Status = ev.Status
		order.UpdatedAt = ev.Timestamp
		if ev.Status.Active() {
			t.orders.put(order)
		} else {
			t.orders.remove(order.ID)
		}
	}
	if ev.Status != models.OrderStatusPending {
		delete(t.alerts, ev.OrderID)
	}

	if refetch {
		t.fetch(fetchOrders)
	}
	if ev.OldStatus == nil || *ev.OldStatus == models.OrderStatusPending || ev.Status == models.OrderStatusPending {
		t.fetch(fetchPendingCount)
	}
}

// callVisible applies the terminal's staff filter
func (t *Terminal) callVisible(staffID *int64) bool {
	return t.opts.StaffID == nil || staffID == nil || *staffID == *t.opts.StaffID
}

func (t *Terminal) onCall(env *models.Envelope, ev *models.WaiterCallEvent) {
	if !t.callVisible(ev.StaffID) {
		return
	}
	if _, ok := t.calls.get(ev.CallID); ok {
		return
	}
	t.calls.put(models.WaiterCall{
		ID:           ev.CallID,
		RestaurantID: env.RestaurantID,
		TableID:      ev.TableID,
		TableNumber:  ev.TableNumber,
		Type:         ev.Type,
		Status:       models.CallStatusPending,
		StaffID:      ev.StaffID,
		CreatedAt:    ev.CreatedAt,
	})
}

func (t *Terminal) onCallAcknowledged(ev *models.WaiterCallAcknowledgedEvent) {
	call, ok := t.calls.get(ev.CallID)
	if !ok {
		t.fetch(fetchCalls)
		return
	}
	if call.Status != models.CallStatusPending {
		return
	}
	at, by := ev.AcknowledgedAt, ev.AcknowledgedBy
	call.Status = models.CallStatusAcknowledged
	call.AcknowledgedAt = &at
	call.AcknowledgedBy = &by
	t.calls.put(call)
}

func (t *Terminal) onCallResolved(ev *models.WaiterCallResolvedEvent) {
	if _, ok := t.calls.get(ev.CallID); !ok {
		t.fetch(fetchCalls)
		return
	}
	t.calls.remove(ev.CallID)
}

// applyMutation installs the server's answer to this terminal's own write
func (t *Terminal) applyMutation(m appliedMsg) {
	switch {
	case m.order != nil:
		if cur, ok := t.orders.get(m.order.ID); ok && m.order.UpdatedAt.Before(cur.UpdatedAt) {
			return
		}
		if m.order.Status.Active() {
			t.orders.put(*m.order)
		} else {
			t.orders.remove(m.order.ID)
		}
		if m.order.Status != models.OrderStatusPending {
			delete(t.alerts, m.order.ID)
		}
		t.fetch(fetchPendingCount)
	case m.table != nil:
		if cur, ok := t.tables.get(m.table.ID); ok && m.table.UpdatedAt.Before(cur.UpdatedAt) {
			return
		}
		table := *m.table
		table.StatusHistory = nil
		t.tables.put(table)
	case m.call != nil:
		if m.call.Status == models.CallStatusResolved {
			t.calls.remove(m.call.ID)
			return
		}
		if cur, ok := t.calls.get(m.call.ID); ok && cur.Status == models.CallStatusAcknowledged {
			return
		}
		t.calls.put(*m.call)
	}
}

// pruneAlerts drops alerts for orders that are gone or no longer pending
func (t *Terminal) pruneAlerts() {
	for id := range t.alerts {
		order, ok := t.orders.get(id)
		if !ok || order.Status != models.OrderStatusPending {
			delete(t.alerts, id)
		}
	}
}

func (t *Terminal) refreshAlarm() {
	if t.alarm == nil {
		return
	}

	ready, pendingCall := false, false
	for _, o := range t.orders.items {
		if o.Status == models.OrderStatusReady {
			ready = true
			break
		}
	}
	for _, c := range t.calls.items {
		if c.Status == models.CallStatusPending {
			pendingCall = true
			break
		}
	}

	t.alarm.Set(alarm.NewOrder, len(t.alerts) > 0)
	t.alarm.Set(alarm.OrderReady, ready)
	t.alarm.Set(alarm.WaiterCall, pendingCall)
}

func (t *Terminal) snapshot() Snapshot {
	orders := t.orders.list(func(a, b models.Order) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	tables := t.tables.list(func(a, b models.Table) bool { return a.Number < b.Number })
	calls := t.calls.list(func(a, b models.WaiterCall) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	alerts := make([]int64, 0, len(t.alerts))
	for id := range t.alerts {
		alerts = append(alerts, id)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i] < alerts[j] })

	s := Snapshot{
		RestaurantID:    t.opts.RestaurantID,
		Connected:       t.connected,
		Orders:          orders,
		Tables:          tables,
		DisplayedTables: tablestatus.ResolveAll(tables, orders),
		Calls:           calls,
		PendingCount:    t.pendingCount,
		OrderAlerts:     alerts,
		LastSync:        t.lastSync,
	}
	if t.alarm != nil {
		s.Ringing = t.alarm.Ringing()
		s.Muted = t.alarm.Muted()
	}
	return s
}
