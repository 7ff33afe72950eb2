package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "idempotency:"

// ResponseCache stores serialised HTTP responses keyed by idempotency key.
type ResponseCache struct {
	client *redis.Client
}

// NewResponseCache creates a new ResponseCache.
func NewResponseCache(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client}
}

// Get returns the stored response, or nil on a cache miss.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// Set stores data for key. An existing entry is kept, so the first response wins.
func (c *ResponseCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.client.SetNX(ctx, idempotencyPrefix+key, data, ttl).Err()
}
