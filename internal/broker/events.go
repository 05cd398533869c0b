package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"floor-sync/internal/models"
	"floor-sync/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Fanout carries an envelope to every server instance holding sessions of its restaurant
type Fanout interface {
	PublishEnvelope(ctx context.Context, env *models.Envelope) (int64, error)
}

// LocalDeliverer delivers an envelope to the sessions joined on this instance
type LocalDeliverer interface {
	Broadcast(restaurantID int64, env *models.Envelope) int
}

// FeedWriter appends an envelope to the durable analytics feed
type FeedWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

const feedWriteTimeout = 10 * time.Second

// EventPublisher broadcasts floor events to a restaurant channel.
// Delivery is at-most-once: failures are logged and never fail the mutation.
type EventPublisher struct {
	fanout Fanout
	local  LocalDeliverer
	feed   FeedWriter
	logger *zap.Logger
}

// NewEventPublisher creates a new event publisher. fanout and feed may be nil.
func NewEventPublisher(fanout Fanout, local LocalDeliverer, feed FeedWriter) *EventPublisher {
	return &EventPublisher{
		fanout: fanout,
		local:  local,
		feed:   feed,
		logger: util.GetLogger(),
	}
}

// Publish wraps payload in an envelope and broadcasts it on the restaurant channel
func (ep *EventPublisher) Publish(ctx context.Context, restaurantID int64, eventType string, payload interface{}) error {
	env, err := models.NewEnvelope(restaurantID, eventType, payload)
	if err != nil {
		return err
	}

	ep.deliver(ctx, env)
	util.EventsPublishedTotal.WithLabelValues(eventType).Inc()

	if ep.feed != nil {
		go ep.writeFeed(env)
	}

	return nil
}

func (ep *EventPublisher) deliver(ctx context.Context, env *models.Envelope) {
	if ep.fanout != nil {
		_, err := ep.fanout.PublishEnvelope(ctx, env)
		if err == nil {
			return
		}
		ep.logger.Warn("Fan-out failed, delivering to local sessions only",
			zap.String("event_type", env.EventType),
			zap.Int64("restaurant_id", env.RestaurantID),
			zap.Error(err))
		util.EventFanoutFallbackTotal.Inc()
	}

	if ep.local != nil {
		ep.local.Broadcast(env.RestaurantID, env)
	}
}

func (ep *EventPublisher) writeFeed(env *models.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), feedWriteTimeout)
	defer cancel()

	key := fmt.Sprintf("restaurant-%d", env.RestaurantID)
	if err := ep.feed.PublishEvent(ctx, key, env); err != nil {
		ep.logger.Warn("Failed to append event to feed",
			zap.String("event_id", env.EventID),
			zap.String("event_type", env.EventType),
			zap.Error(err))
	}
}

// EventHandler routes feed messages to typed handlers
type EventHandler struct {
	onOrderUpdated     func(context.Context, *models.Envelope, *models.OrderUpdatedEvent) error
	onCallAcknowledged func(context.Context, *models.Envelope, *models.WaiterCallAcknowledgedEvent) error
	onCallResolved     func(context.Context, *models.Envelope, *models.WaiterCallResolvedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderUpdated registers a handler for order:updated events
func (eh *EventHandler) OnOrderUpdated(handler func(context.Context, *models.Envelope, *models.OrderUpdatedEvent) error) {
	eh.onOrderUpdated = handler
}

// OnCallAcknowledged registers a handler for waiter:call:acknowledged events
func (eh *EventHandler) OnCallAcknowledged(handler func(context.Context, *models.Envelope, *models.WaiterCallAcknowledgedEvent) error) {
	eh.onCallAcknowledged = handler
}

// OnCallResolved registers a handler for waiter:call:resolved events
func (eh *EventHandler) OnCallResolved(handler func(context.Context, *models.Envelope, *models.WaiterCallResolvedEvent) error) {
	eh.onCallResolved = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var env models.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID))

	switch env.EventType {
	case models.EventTypeOrderUpdated:
		if eh.onOrderUpdated != nil {
			var event models.OrderUpdatedEvent
			if err := env.Decode(&event); err != nil {
				return err
			}
			return eh.onOrderUpdated(ctx, &env, &event)
		}

	case models.EventTypeWaiterCallAcknowledged:
		if eh.onCallAcknowledged != nil {
			var event models.WaiterCallAcknowledgedEvent
			if err := env.Decode(&event); err != nil {
				return err
			}
			return eh.onCallAcknowledged(ctx, &env, &event)
		}

	case models.EventTypeWaiterCallResolved:
		if eh.onCallResolved != nil {
			var event models.WaiterCallResolvedEvent
			if err := env.Decode(&event); err != nil {
				return err
			}
			return eh.onCallResolved(ctx, &env, &event)
		}
	}

	return nil
}
