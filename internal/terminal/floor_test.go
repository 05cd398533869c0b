package terminal_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"floor-sync/internal/alarm"
	"floor-sync/internal/api"
	"floor-sync/internal/broker"
	"floor-sync/internal/clock"
	"floor-sync/internal/gateway"
	"floor-sync/internal/memstore"
	"floor-sync/internal/models"
	"floor-sync/internal/service"
	"floor-sync/internal/tablestatus"
	"floor-sync/internal/terminal"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const restaurantID = 1

type floor struct {
	server *httptest.Server
	store  *memstore.Store
	orders *service.OrderService
	calls  *service.WaiterCallService
	table  models.Table
	item   models.MenuItem
}

func newFloor(t *testing.T) *floor {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memstore.New()
	hub := gateway.NewHub()
	pub := broker.NewEventPublisher(nil, hub, nil)

	tables := service.NewTableService(st, pub)
	orders := service.NewOrderService(st, nil, pub, service.Rates{TaxPercent: 10})
	calls := service.NewWaiterCallService(st, pub)

	router := gin.New()
	api.NewHandler(tables, orders, calls, gateway.NewGateway(hub)).SetupRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &floor{
		server: srv,
		store:  st,
		orders: orders,
		calls:  calls,
		table:  st.AddTable(models.Table{RestaurantID: restaurantID, Number: 5, Capacity: 4, Status: models.TableStatusFree}),
		item:   st.AddMenuItem(models.MenuItem{RestaurantID: restaurantID, Name: "Pasta", Price: 1400, Available: true}),
	}
}

type quietPlayer struct{}

func (quietPlayer) Play(context.Context, alarm.Category) error { return nil }

// open connects a terminal over HTTP and websocket and waits for its first sync
func (f *floor) open(t *testing.T, staffID int64) (*terminal.Terminal, *clock.FakeClock) {
	t.Helper()

	clk := clock.Fake(time.Now())
	logger := zap.NewNop()

	stream, err := terminal.NewStream(f.server.URL, restaurantID, 3, 10*time.Millisecond, clock.Real(), logger)
	require.NoError(t, err)

	term := terminal.New(
		terminal.NewAPIClient(f.server.URL, staffID),
		stream,
		alarm.New(clk, alarm.DefaultInterval, quietPlayer{}, nil, logger),
		terminal.Options{RestaurantID: restaurantID, Clock: clk, Logger: logger},
	)
	term.Start()
	t.Cleanup(term.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, term.WaitJoined(ctx))
	eventually(t, term, func(s terminal.Snapshot) bool { return s.Connected && len(s.Tables) == 1 })
	return term, clk
}

func eventually(t *testing.T, term *terminal.Terminal, cond func(s terminal.Snapshot) bool) terminal.Snapshot {
	t.Helper()
	var last terminal.Snapshot
	require.Eventually(t, func() bool {
		last = term.Snapshot()
		return cond(last)
	}, 5*time.Second, 10*time.Millisecond)
	return last
}

func (f *floor) placeOrder(t *testing.T) *models.Order {
	t.Helper()
	res, err := f.orders.CreateOrder(context.Background(), restaurantID, &service.CreateOrderRequest{
		TableID: &f.table.ID,
		Items:   []service.OrderItemRequest{{MenuItemID: f.item.ID, Quantity: 1}},
	}, 0)
	require.NoError(t, err)
	return res.Order
}

func (f *floor) advance(t *testing.T, orderID int64, statuses ...models.OrderStatus) {
	t.Helper()
	for _, s := range statuses {
		_, err := f.orders.UpdateStatus(context.Background(), orderID, s, 42)
		require.NoError(t, err)
	}
}

func TestFloor_NewOrderOccupiesTable(t *testing.T) {
	f := newFloor(t)
	term, _ := f.open(t, 42)

	s := term.Snapshot()
	assert.Equal(t, tablestatus.Free, s.DisplayedTables[f.table.ID])

	o := f.placeOrder(t)

	s = eventually(t, term, func(s terminal.Snapshot) bool {
		return s.DisplayedTables[f.table.ID] == tablestatus.Occupied && s.PendingCount == 1
	})
	assert.Equal(t, []int64{o.ID}, s.OrderAlerts)
	assert.Contains(t, s.Ringing, alarm.NewOrder)
}

func TestFloor_ReadyOrderShowsTableReady(t *testing.T) {
	f := newFloor(t)
	term, _ := f.open(t, 42)

	o := f.placeOrder(t)
	eventually(t, term, func(s terminal.Snapshot) bool { return len(s.Orders) == 1 })

	f.advance(t, o.ID, models.OrderStatusConfirmed, models.OrderStatusPreparing, models.OrderStatusReady)

	s := eventually(t, term, func(s terminal.Snapshot) bool {
		return s.DisplayedTables[f.table.ID] == tablestatus.Ready
	})
	assert.Equal(t, 0, s.PendingCount)
	assert.Empty(t, s.OrderAlerts)
	assert.Equal(t, []alarm.Category{alarm.OrderReady}, s.Ringing)

	raw, err := f.store.GetTable(context.Background(), f.table.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.TableStatus(tablestatus.Ready), raw.Status)
}

func TestFloor_WaiterCallRingsUntilAcknowledged(t *testing.T) {
	f := newFloor(t)
	term, _ := f.open(t, 42)
	ctx := context.Background()

	call, err := f.calls.Create(ctx, restaurantID, &service.CreateCallRequest{TableID: f.table.ID, Type: models.CallTypeService})
	require.NoError(t, err)

	s := eventually(t, term, func(s terminal.Snapshot) bool { return len(s.Calls) == 1 })
	assert.Equal(t, []alarm.Category{alarm.WaiterCall}, s.Ringing)

	_, err = term.AcknowledgeCall(ctx, call.ID)
	require.NoError(t, err)
	s = eventually(t, term, func(s terminal.Snapshot) bool { return len(s.Ringing) == 0 })
	require.Len(t, s.Calls, 1)
	assert.Equal(t, models.CallStatusAcknowledged, s.Calls[0].Status)

	_, err = term.ResolveCall(ctx, call.ID)
	require.NoError(t, err)
	eventually(t, term, func(s terminal.Snapshot) bool { return len(s.Calls) == 0 })
}

func TestFloor_TerminalsConvergeWhenFreeIsRejected(t *testing.T) {
	f := newFloor(t)
	first, firstClock := f.open(t, 42)
	second, secondClock := f.open(t, 43)
	ctx := context.Background()

	o := f.placeOrder(t)
	f.advance(t, o.ID, models.OrderStatusConfirmed, models.OrderStatusPreparing)

	for _, term := range []*terminal.Terminal{first, second} {
		eventually(t, term, func(s terminal.Snapshot) bool {
			return len(s.Orders) == 1 && s.Orders[0].Status == models.OrderStatusPreparing
		})
	}

	_, err := first.FreeTable(ctx, f.table.ID)
	var apiErr *terminal.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	firstClock.Advance(terminal.DefaultPollInterval)
	secondClock.Advance(terminal.DefaultPollInterval)

	a := eventually(t, first, func(s terminal.Snapshot) bool { return s.DisplayedTables[f.table.ID] == tablestatus.Occupied })
	b := eventually(t, second, func(s terminal.Snapshot) bool { return s.DisplayedTables[f.table.ID] == tablestatus.Occupied })
	assert.Equal(t, a.DisplayedTables, b.DisplayedTables)
	assert.Equal(t, a.Tables[0].Status, b.Tables[0].Status)
}

func TestFloor_FreeAfterServiceConverges(t *testing.T) {
	f := newFloor(t)
	first, _ := f.open(t, 42)
	second, _ := f.open(t, 43)
	ctx := context.Background()

	o := f.placeOrder(t)
	f.advance(t, o.ID, models.OrderStatusConfirmed, models.OrderStatusPreparing,
		models.OrderStatusReady, models.OrderStatusServed, models.OrderStatusCompleted)
	eventually(t, second, func(s terminal.Snapshot) bool {
		return len(s.Orders) == 0 && s.DisplayedTables[f.table.ID] == tablestatus.Occupied
	})

	table, err := first.FreeTable(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusFree, table.Status)

	for _, term := range []*terminal.Terminal{first, second} {
		eventually(t, term, func(s terminal.Snapshot) bool { return s.DisplayedTables[f.table.ID] == tablestatus.Free })
	}
}

func TestFloor_FreeCompletesServedOrders(t *testing.T) {
	f := newFloor(t)
	first, _ := f.open(t, 42)
	second, _ := f.open(t, 43)
	ctx := context.Background()

	o := f.placeOrder(t)
	f.advance(t, o.ID, models.OrderStatusConfirmed, models.OrderStatusPreparing,
		models.OrderStatusReady, models.OrderStatusServed)
	for _, term := range []*terminal.Terminal{first, second} {
		eventually(t, term, func(s terminal.Snapshot) bool {
			return len(s.Orders) == 1 && s.Orders[0].Status == models.OrderStatusServed
		})
	}

	table, err := first.FreeTable(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusFree, table.Status)

	for _, term := range []*terminal.Terminal{first, second} {
		s := eventually(t, term, func(s terminal.Snapshot) bool {
			return len(s.Orders) == 0 && s.DisplayedTables[f.table.ID] == tablestatus.Free
		})
		assert.Empty(t, s.Ringing)
	}

	closed, err := f.store.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, closed.Status)
}
