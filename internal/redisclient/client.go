package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"floor-sync/internal/models"

	"github.com/go-redis/redis/v8"
)

const floorChannelPrefix = "floor:restaurant:"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing go-redis client
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// FloorChannel returns the pub/sub channel of a restaurant
func FloorChannel(restaurantID int64) string {
	return floorChannelPrefix + strconv.FormatInt(restaurantID, 10)
}

// RestaurantFromChannel parses the restaurant ID out of a floor channel name
func RestaurantFromChannel(channel string) (int64, error) {
	if !strings.HasPrefix(channel, floorChannelPrefix) {
		return 0, fmt.Errorf("not a floor channel: %s", channel)
	}
	return strconv.ParseInt(strings.TrimPrefix(channel, floorChannelPrefix), 10, 64)
}

// PublishEnvelope publishes an event on its restaurant channel.
// Returns the number of subscribers that received it.
func (c *Client) PublishEnvelope(ctx context.Context, env *models.Envelope) (int64, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	n, err := c.rdb.Publish(ctx, FloorChannel(env.RestaurantID), payload).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish failed: %w", err)
	}
	return n, nil
}

// SubscribeFloor subscribes to every restaurant channel. The caller closes the subscription.
func (c *Client) SubscribeFloor(ctx context.Context) (*redis.PubSub, error) {
	ps := c.rdb.PSubscribe(ctx, floorChannelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis psubscribe failed: %w", err)
	}
	return ps, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotentOrderID returns the order recorded under key, or 0 when there is none
func (c *Client) GetIdempotentOrderID(ctx context.Context, key string) (int64, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
