package stats

import (
	"context"
	"encoding/json"
	"time"

	"factoryops/internal/events"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "attendance:stats:"

// Cache stores computed dashboard figures in Redis for a short TTL.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache returns a cache over client. A nil client or non-positive ttl
// disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{redis: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

func cacheGet[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	if !c.enabled() {
		return out, false
	}
	val, err := c.redis.Get(ctx, cachePrefix+key).Result()
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

func (c *Cache) set(ctx context.Context, key string, val any) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cachePrefix+key, data, c.ttl).Err()
}

// Invalidate drops every cached figure.
func (c *Cache) Invalidate(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// InvalidateOn returns an event handler that clears the cache after every
// committed transition.
func (c *Cache) InvalidateOn() events.EventHandler {
	return func(events.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return c.Invalidate(ctx)
	}
}
