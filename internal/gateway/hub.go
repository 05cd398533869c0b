package gateway

import (
	"encoding/json"
	"sync"

	"floor-sync/internal/models"
	"floor-sync/internal/util"

	"go.uber.org/zap"
)

// Hub tracks which sessions are joined to which restaurant channel.
// A session belongs to at most one restaurant at a time.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[int64]map[*Session]struct{}
	sessions map[*Session]int64
	logger   *zap.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[int64]map[*Session]struct{}),
		sessions: make(map[*Session]int64),
		logger:   util.GetLogger(),
	}
}

// Join moves s into the restaurant channel, leaving any previous one
func (h *Hub) Join(s *Session, restaurantID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.sessions[s]; ok {
		if prev == restaurantID {
			return
		}
		h.removeLocked(s, prev)
	}

	room, ok := h.rooms[restaurantID]
	if !ok {
		room = make(map[*Session]struct{})
		h.rooms[restaurantID] = room
	}
	room[s] = struct{}{}
	h.sessions[s] = restaurantID
}

// Leave removes s from its channel. It reports whether s was joined.
func (h *Hub) Leave(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, ok := h.sessions[s]
	if !ok {
		return false
	}
	h.removeLocked(s, prev)
	return true
}

func (h *Hub) removeLocked(s *Session, restaurantID int64) {
	delete(h.sessions, s)
	room := h.rooms[restaurantID]
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, restaurantID)
	}
}

// RestaurantOf returns the channel s is joined to
func (h *Hub) RestaurantOf(s *Session) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.sessions[s]
	return id, ok
}

// Members returns the number of sessions joined to a restaurant
func (h *Hub) Members(restaurantID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[restaurantID])
}

// Broadcast delivers env to every session of the restaurant and returns how many accepted it.
// Sessions with a full send buffer miss the event.
func (h *Hub) Broadcast(restaurantID int64, env *models.Envelope) int {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", zap.String("event_type", env.EventType), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[restaurantID]))
	for s := range h.rooms[restaurantID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.enqueue(payload) {
			delivered++
			continue
		}
		h.logger.Warn("Session send buffer full, event dropped",
			zap.String("session_id", s.ID()),
			zap.String("event_type", env.EventType))
	}
	return delivered
}
