package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"floor-sync/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, restaurantID int64, eventType string, payload interface{}) *models.Envelope {
	env, err := models.NewEnvelope(restaurantID, eventType, payload)
	require.NoError(t, err)
	return env
}

func TestHub_BroadcastIsTenantScoped(t *testing.T) {
	hub := NewHub()
	a := newSession(hub, nil)
	b := newSession(hub, nil)
	hub.Join(a, 1)
	hub.Join(b, 2)

	n := hub.Broadcast(1, mustEnvelope(t, 1, models.EventTypeOrderNew, models.OrderNewEvent{OrderID: 1}))

	assert.Equal(t, 1, n)
	assert.Len(t, a.send, 1)
	assert.Len(t, b.send, 0)
}

func TestHub_JoinSwitchesRestaurant(t *testing.T) {
	hub := NewHub()
	s := newSession(hub, nil)

	hub.Join(s, 1)
	hub.Join(s, 2)

	assert.Equal(t, 0, hub.Members(1))
	assert.Equal(t, 1, hub.Members(2))
	id, ok := hub.RestaurantOf(s)
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	assert.True(t, hub.Leave(s))
	assert.False(t, hub.Leave(s))
	assert.Equal(t, 0, hub.Members(2))
}

func TestHub_FullBufferDropsEvent(t *testing.T) {
	hub := NewHub()
	s := newSession(hub, nil)
	hub.Join(s, 1)
	env := mustEnvelope(t, 1, models.EventTypeWaiterCall, models.WaiterCallEvent{CallID: 1})

	for i := 0; i < sendBufferSize; i++ {
		require.Equal(t, 1, hub.Broadcast(1, env))
	}
	assert.Equal(t, 0, hub.Broadcast(1, env))
}

func TestHub_ClosedSessionRejectsDelivery(t *testing.T) {
	hub := NewHub()
	s := newSession(hub, nil)
	hub.Join(s, 1)
	s.close()

	assert.Equal(t, 0, hub.Broadcast(1, mustEnvelope(t, 1, models.EventTypeOrderNew, nil)))
}

func TestHub_ConcurrentMembership(t *testing.T) {
	hub := NewHub()
	sessions := make([]*Session, 50)
	for i := range sessions {
		sessions[i] = newSession(hub, nil)
	}

	env := mustEnvelope(t, 1, models.EventTypeOrderNew, nil)
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			hub.Join(s, int64(i%3+1))
			hub.Broadcast(int64(i%3+1), env)
			if i%2 == 0 {
				hub.Leave(s)
			}
		}(i, s)
	}
	wg.Wait()

	total := hub.Members(1) + hub.Members(2) + hub.Members(3)
	assert.Equal(t, 25, total)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *models.Envelope {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return &env
}

func TestGateway_JoinThenReceive(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(NewGateway(hub).ServeWS))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(mustEnvelope(t, 0, models.EventTypeJoinRestaurant,
		models.JoinRestaurantMessage{RestaurantID: 6})))

	joined := readEnvelope(t, conn)
	assert.Equal(t, models.EventTypeJoinedRestaurant, joined.EventType)
	var ack models.JoinedRestaurantMessage
	require.NoError(t, joined.Decode(&ack))
	assert.Equal(t, int64(6), ack.RestaurantID)
	assert.NotEmpty(t, ack.SessionID)

	hub.Broadcast(7, mustEnvelope(t, 7, models.EventTypeOrderNew, models.OrderNewEvent{OrderID: 70}))
	hub.Broadcast(6, mustEnvelope(t, 6, models.EventTypeOrderNew, models.OrderNewEvent{OrderID: 60}))

	got := readEnvelope(t, conn)
	var order models.OrderNewEvent
	require.NoError(t, got.Decode(&order))
	assert.Equal(t, int64(60), order.OrderID)
}

func TestGateway_DisconnectLeavesChannel(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(NewGateway(hub).ServeWS))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(mustEnvelope(t, 0, models.EventTypeJoinRestaurant,
		models.JoinRestaurantMessage{RestaurantID: 3})))
	readEnvelope(t, conn)
	require.Equal(t, 1, hub.Members(3))

	conn.Close()

	assert.Eventually(t, func() bool { return hub.Members(3) == 0 }, 2*time.Second, 10*time.Millisecond)
}
