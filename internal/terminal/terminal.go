// Package terminal keeps a staff terminal's view of the floor consistent with the server.
//
// A Terminal runs one actor goroutine that owns every cached list. Stream events,
// poll ticks, fetch results and local actions all arrive as messages on a single
// inbox and are applied in order. Network I/O happens on other goroutines which
// post their results back, so the loop never blocks. Lists are patched from events
// and corrected by authoritative re-fetches; the pending order count is only ever
// taken from the server.
package terminal

import (
	"context"
	"errors"
	"sync"
	"time"

	"floor-sync/internal/alarm"
	"floor-sync/internal/clock"
	"floor-sync/internal/models"
	"floor-sync/internal/tablestatus"

	"go.uber.org/zap"
)

// DefaultPollInterval is the period of the authoritative re-sync
const DefaultPollInterval = 30 * time.Second

const inboxSize = 256

// ErrClosed is returned by actions on a closed terminal
var ErrClosed = errors.New("terminal closed")

// API is the server surface a terminal reads from and writes to
type API interface {
	ListOrders(ctx context.Context, restaurantID int64, statuses []models.OrderStatus) ([]models.Order, error)
	CountOrders(ctx context.Context, restaurantID int64, status models.OrderStatus) (int, error)
	ListTables(ctx context.Context, restaurantID int64) ([]models.Table, error)
	ActiveCalls(ctx context.Context, restaurantID int64, staffID *int64) ([]models.WaiterCall, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error)
	UpdateTableStatus(ctx context.Context, tableID int64, status models.TableStatus, reason string) (*models.Table, error)
	FreeTable(ctx context.Context, tableID int64) (*models.Table, error)
	AcknowledgeCall(ctx context.Context, callID int64) (*models.WaiterCall, error)
	ResolveCall(ctx context.Context, callID int64) (*models.WaiterCall, error)
}

// Options configure a terminal
type Options struct {
	RestaurantID int64
	// StaffID limits the call list to calls assigned to this member or unassigned
	StaffID      *int64
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Snapshot is a consistent copy of a terminal's view
type Snapshot struct {
	RestaurantID    int64
	Connected       bool
	Orders          []models.Order
	Tables          []models.Table
	DisplayedTables map[int64]tablestatus.Display
	Calls           []models.WaiterCall
	PendingCount    int
	OrderAlerts     []int64
	Ringing         []alarm.Category
	Muted           bool
	LastSync        time.Time
}

// Terminal is the reconciliation context of one connected staff terminal.
// It is created when a restaurant is selected and torn down by Close.
type Terminal struct {
	opts   Options
	api    API
	stream *Stream
	alarm  *alarm.Alarm
	logger *zap.Logger

	inbox  chan message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	joined     chan struct{}
	joinedOnce sync.Once
	startOnce  sync.Once

	// owned by the loop
	orders       *entityCache[models.Order]
	tables       *entityCache[models.Table]
	calls        *entityCache[models.WaiterCall]
	pendingCount int
	countIssued  uint64
	countApplied uint64
	alerts       map[int64]time.Time
	connected    bool
	reconnecting bool
	conn         uint64
	gen          uint64
	fetchCtx     context.Context
	fetchCancel  context.CancelFunc
	lastSync     time.Time
}

// New creates a terminal. stream may be nil for a poll-only terminal.
func New(api API, stream *Stream, alm *alarm.Alarm, opts Options) *Terminal {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	fetchCtx, fetchCancel := context.WithCancel(ctx)

	return &Terminal{
		opts:         opts,
		api:          api,
		stream:       stream,
		alarm:        alm,
		logger:       opts.Logger.With(zap.Int64("restaurant_id", opts.RestaurantID)),
		inbox:        make(chan message, inboxSize),
		ctx:          ctx,
		cancel:       cancel,
		joined:       make(chan struct{}),
		orders:       newEntityCache(func(o models.Order) int64 { return o.ID }),
		tables:       newEntityCache(func(t models.Table) int64 { return t.ID }),
		calls:        newEntityCache(func(c models.WaiterCall) int64 { return c.ID }),
		alerts:       make(map[int64]time.Time),
		reconnecting: stream != nil,
		fetchCtx:     fetchCtx,
		fetchCancel:  fetchCancel,
	}
}

// Start launches the loop, the poller and the stream
func (t *Terminal) Start() {
	t.startOnce.Do(func() {
		t.wg.Add(2)
		go t.loop()
		go t.poll()

		if t.stream == nil {
			t.markJoined()
			t.post(pollMsg{})
			return
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			err := t.stream.run(t.ctx, t)
			if err != nil && !errors.Is(err, context.Canceled) {
				t.post(streamEndedMsg{err: err})
			}
		}()
	})
}

// Close tears the terminal down and silences its alarm
func (t *Terminal) Close() {
	t.cancel()
	t.wg.Wait()
	if t.alarm != nil {
		t.alarm.Close()
	}
}

// WaitJoined blocks until the terminal has joined its channel for the first time,
// or gave up trying
func (t *Terminal) WaitJoined(ctx context.Context) error {
	select {
	case <-t.joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrClosed
	}
}

func (t *Terminal) markJoined() {
	t.joinedOnce.Do(func() { close(t.joined) })
}

func (t *Terminal) post(m message) {
	select {
	case t.inbox <- m:
	case <-t.ctx.Done():
	}
}

func (t *Terminal) poll() {
	defer t.wg.Done()

	ticker := t.opts.Clock.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.post(pollMsg{})
		}
	}
}

// stream callbacks

func (t *Terminal) streamConnected(conn uint64) { t.post(connectedMsg{conn: conn}) }

func (t *Terminal) streamEvent(conn uint64, env *models.Envelope) {
	t.post(eventMsg{conn: conn, env: env})
}

func (t *Terminal) streamDisconnected(conn uint64, err error) {
	t.post(disconnectedMsg{conn: conn, err: err})
}

// Snapshot returns a copy of the current view
func (t *Terminal) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case t.inbox <- snapshotMsg{reply: reply}:
	case <-t.ctx.Done():
		return Snapshot{RestaurantID: t.opts.RestaurantID}
	}
	select {
	case s := <-reply:
		return s
	case <-t.ctx.Done():
		return Snapshot{RestaurantID: t.opts.RestaurantID}
	}
}

// Resync triggers an immediate authoritative re-fetch of every list
func (t *Terminal) Resync() {
	t.post(pollMsg{})
}

// AcknowledgeOrderAlert clears this terminal's new-order alert for orderID
func (t *Terminal) AcknowledgeOrderAlert(orderID int64) {
	t.post(ackAlertMsg{orderID: orderID})
}

// SetMuted changes the persisted mute preference
func (t *Terminal) SetMuted(muted bool) error {
	if t.alarm == nil {
		return nil
	}
	return t.alarm.SetMuted(muted)
}

// UpdateOrderStatus asks the server to move an order. On failure local state is untouched.
func (t *Terminal) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	if err := t.WaitJoined(ctx); err != nil {
		return nil, err
	}
	order, err := t.api.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	t.post(appliedMsg{order: order})
	return order, nil
}

// UpdateTableStatus asks the server to change a table's status
func (t *Terminal) UpdateTableStatus(ctx context.Context, tableID int64, status models.TableStatus, reason string) (*models.Table, error) {
	if err := t.WaitJoined(ctx); err != nil {
		return nil, err
	}
	table, err := t.api.UpdateTableStatus(ctx, tableID, status, reason)
	if err != nil {
		return nil, err
	}
	t.post(appliedMsg{table: table})
	return table, nil
}

// FreeTable asks the server to end a table's session
func (t *Terminal) FreeTable(ctx context.Context, tableID int64) (*models.Table, error) {
	if err := t.WaitJoined(ctx); err != nil {
		return nil, err
	}
	table, err := t.api.FreeTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	t.post(appliedMsg{table: table})
	return table, nil
}

// AcknowledgeCall acknowledges a waiter call
func (t *Terminal) AcknowledgeCall(ctx context.Context, callID int64) (*models.WaiterCall, error) {
	if err := t.WaitJoined(ctx); err != nil {
		return nil, err
	}
	call, err := t.api.AcknowledgeCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	t.post(appliedMsg{call: call})
	return call, nil
}

// ResolveCall resolves a waiter call
func (t *Terminal) ResolveCall(ctx context.Context, callID int64) (*models.WaiterCall, error) {
	if err := t.WaitJoined(ctx); err != nil {
		return nil, err
	}
	call, err := t.api.ResolveCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	t.post(appliedMsg{call: call})
	return call, nil
}
