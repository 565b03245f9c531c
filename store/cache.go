package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a JSON read-through cache over redis, used for hot job-status
// reads while a job runs. A nil client disables caching: every operation
// becomes a no-op miss, so callers need no special casing.
type Cache[T any] struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCache[T any](rc *redis.Client, prefix string, ttl time.Duration) *Cache[T] {
	return &Cache[T]{rc: rc, prefix: prefix, ttl: ttl}
}

func (c *Cache[T]) key(field string) string {
	return fmt.Sprintf("%s:%s", c.prefix, field)
}

// Get retrieves a single item from cache. A miss returns (nil, nil).
func (c *Cache[T]) Get(ctx context.Context, field string) (*T, error) {
	if c.rc == nil {
		return nil, nil
	}

	result, err := c.rc.Get(ctx, c.key(field)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var row T
	if err = json.Unmarshal([]byte(result), &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &row, nil
}

// Set saves a single item into cache.
func (c *Cache[T]) Set(ctx context.Context, field string, data *T) error {
	if c.rc == nil {
		return nil
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := c.rc.Set(ctx, c.key(field), bytes, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Delete removes data from cache.
func (c *Cache[T]) Delete(ctx context.Context, field string) error {
	if c.rc == nil {
		return nil
	}

	if err := c.rc.Del(ctx, c.key(field)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}
