package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/util"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Gateway accepts terminal connections and binds them to the hub
type Gateway struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewGateway creates a new gateway
func NewGateway(hub *Hub) *Gateway {
	return &Gateway{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: util.GetLogger(),
	}
}

// ServeWS upgrades the request and serves the session until it disconnects
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession(g.hub, conn)
	util.ConnectedSessions.Inc()
	g.logger.Info("Session connected", zap.String("session_id", s.id), zap.String("remote", r.RemoteAddr))

	go s.writePump()
	s.readPump()

	g.hub.Leave(s)
	s.close()
	util.ConnectedSessions.Dec()
	g.logger.Info("Session disconnected", zap.String("session_id", s.id))
}

// Session is one terminal connection
type Session struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newSession(hub *Hub, conn *websocket.Conn) *Session {
	return &Session{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: util.GetLogger(),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

func (s *Session) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Session read failed", zap.String("session_id", s.id), zap.Error(err))
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Debug("Ignoring malformed message", zap.String("session_id", s.id), zap.Error(err))
			continue
		}
		s.handle(&env)
	}
}

func (s *Session) handle(env *models.Envelope) {
	switch env.EventType {
	case models.EventTypeJoinRestaurant:
		var msg models.JoinRestaurantMessage
		if err := env.Decode(&msg); err != nil || msg.RestaurantID <= 0 {
			s.logger.Debug("Ignoring invalid join", zap.String("session_id", s.id))
			return
		}

		// The confirmation is queued before membership so it precedes every channel event.
		reply, err := models.NewEnvelope(msg.RestaurantID, models.EventTypeJoinedRestaurant,
			models.JoinedRestaurantMessage{RestaurantID: msg.RestaurantID, SessionID: s.id})
		if err != nil {
			return
		}
		payload, err := json.Marshal(reply)
		if err != nil {
			return
		}
		s.enqueue(payload)
		s.hub.Join(s, msg.RestaurantID)
		s.logger.Info("Session joined restaurant",
			zap.String("session_id", s.id),
			zap.Int64("restaurant_id", msg.RestaurantID))

	case models.EventTypeLeaveRestaurant:
		s.hub.Leave(s)

	default:
		s.logger.Debug("Ignoring client message", zap.String("event_type", env.EventType))
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
