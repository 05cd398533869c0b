package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"floor-sync/internal/models"
	"floor-sync/internal/redisclient"
	"floor-sync/internal/util"

	"go.uber.org/zap"
)

// Relay delivers envelopes published by any server instance to the sessions joined here
type Relay struct {
	redis  *redisclient.Client
	local  LocalDeliverer
	logger *zap.Logger
}

// NewRelay creates a new relay
func NewRelay(redis *redisclient.Client, local LocalDeliverer) *Relay {
	return &Relay{
		redis:  redis,
		local:  local,
		logger: util.GetLogger(),
	}
}

// Run blocks until ctx is cancelled or the subscription closes
func (r *Relay) Run(ctx context.Context) error {
	ps, err := r.redis.SubscribeFloor(ctx)
	if err != nil {
		return err
	}
	defer ps.Close()

	r.logger.Info("Floor relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("floor subscription closed")
			}
			if err := r.handle(msg.Channel, msg.Payload); err != nil {
				r.logger.Warn("Dropping relayed event", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}
	}
}

func (r *Relay) handle(channel, payload string) error {
	restaurantID, err := redisclient.RestaurantFromChannel(channel)
	if err != nil {
		return err
	}

	var env models.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.RestaurantID != restaurantID {
		return fmt.Errorf("envelope for restaurant %d on channel of %d", env.RestaurantID, restaurantID)
	}

	r.local.Broadcast(restaurantID, &env)
	return nil
}
