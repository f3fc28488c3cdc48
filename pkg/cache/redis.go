// Package cache provides a small JSON-over-Redis cache used for baseline
// profiles, which are expensive aggregate queries over historical readings.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection with JSON get/set semantics.
type Client struct {
	redis *redis.Client
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{redis: rdb}, nil
}

// GetJSON loads the value at key into dest. The second return value is
// false on a cache miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from cache: %w", key, err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached %s: %w", key, err)
	}

	return true, nil
}

// SetJSON stores value at key with a TTL so stale entries self-expire.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}

	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in cache: %w", key, err)
	}

	return nil
}

// Delete removes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.redis.Del(ctx, key).Err()
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.redis.Close()
}
