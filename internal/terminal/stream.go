package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"floor-sync/internal/clock"
	"floor-sync/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const joinTimeout = 10 * time.Second

// ErrReconnectExhausted is reported when every reconnect attempt failed
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// streamSink receives connection lifecycle and events, tagged with the connection number
type streamSink interface {
	streamConnected(conn uint64)
	streamEvent(conn uint64, env *models.Envelope)
	streamDisconnected(conn uint64, err error)
}

// Stream keeps one websocket session joined to a restaurant channel. After a drop it
// reconnects with a fixed delay, giving up after a bounded number of attempts.
type Stream struct {
	url          string
	restaurantID int64
	attempts     int
	delay        time.Duration
	clock        clock.Clock
	dialer       *websocket.Dialer
	logger       *zap.Logger
}

// NewStream creates a stream for the gateway at serverURL (http or ws scheme)
func NewStream(serverURL string, restaurantID int64, attempts int, delay time.Duration, clk clock.Clock, logger *zap.Logger) (*Stream, error) {
	wsURL, err := websocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	if attempts <= 0 {
		attempts = 1
	}

	return &Stream{
		url:          wsURL,
		restaurantID: restaurantID,
		attempts:     attempts,
		delay:        delay,
		clock:        clk,
		dialer:       &websocket.Dialer{HandshakeTimeout: joinTimeout},
		logger:       logger,
	}, nil
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}

// run serves connections until ctx ends or reconnecting fails. It returns
// ErrReconnectExhausted in the latter case.
func (s *Stream) run(ctx context.Context, sink streamSink) error {
	var conn uint64
	for {
		ws, err := s.connect(ctx)
		if err != nil {
			return err
		}

		conn++
		sink.streamConnected(conn)
		err = s.read(ctx, ws, conn, sink)
		ws.Close()
		sink.streamDisconnected(conn, err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Floor stream dropped, reconnecting", zap.Error(err))
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.clock.After(s.delay):
			}
		}

		ws, err := s.dialAndJoin(ctx)
		if err == nil {
			s.logger.Info("Joined restaurant channel",
				zap.Int64("restaurant_id", s.restaurantID),
				zap.Int("attempt", attempt))
			return ws, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		s.logger.Warn("Connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.attempts),
			zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %v", ErrReconnectExhausted, lastErr)
}

// dialAndJoin opens a session and completes the join handshake before any event is read
func (s *Stream) dialAndJoin(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := s.dialer.DialContext(ctx, s.url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	join, err := models.NewEnvelope(s.restaurantID, models.EventTypeJoinRestaurant,
		models.JoinRestaurantMessage{RestaurantID: s.restaurantID})
	if err != nil {
		ws.Close()
		return nil, err
	}
	if err := ws.WriteJSON(join); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(joinTimeout))
	for {
		var env models.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			ws.Close()
			return nil, fmt.Errorf("await join confirmation: %w", err)
		}
		if env.EventType != models.EventTypeJoinedRestaurant {
			continue
		}
		var ack models.JoinedRestaurantMessage
		if err := env.Decode(&ack); err != nil || ack.RestaurantID != s.restaurantID {
			ws.Close()
			return nil, fmt.Errorf("unexpected join confirmation for restaurant %d", ack.RestaurantID)
		}
		break
	}
	_ = ws.SetReadDeadline(time.Time{})
	return ws, nil
}

func (s *Stream) read(ctx context.Context, ws *websocket.Conn, conn uint64, sink streamSink) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Debug("Ignoring malformed event", zap.Error(err))
			continue
		}
		if env.RestaurantID != s.restaurantID {
			s.logger.Debug("Ignoring event for another restaurant", zap.Int64("restaurant_id", env.RestaurantID))
			continue
		}
		sink.streamEvent(conn, &env)
	}
}
