package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a small JSON cache on top of a Redis client.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a cache whose keys are all prefixed with prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Delete removes keys.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// GetJSON decodes the value at key into dest. found is false on a miss.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores value as JSON with a TTL.
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

// Counter returns the integer at key, 0 when it does not exist.
func (c *RedisCache) Counter(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, c.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Bump increments counter and deletes keys in one transaction. The counter
// expires after ttl of inactivity.
func (c *RedisCache) Bump(ctx context.Context, counter string, ttl time.Duration, keys ...string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.key(counter))
		pipe.Expire(ctx, c.key(counter), ttl)
		for _, k := range keys {
			pipe.Del(ctx, c.key(k))
		}
		return nil
	})
	return err
}

// SetJSONIfCounter stores value at key only while counter still equals
// expected. stored is false when the counter moved.
func (c *RedisCache) SetJSONIfCounter(ctx context.Context, key string, value any, ttl time.Duration, counter string, expected int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}

	guard := c.key(counter)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, guard).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(key), data, ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, guard)

	if errors.Is(err, redis.TxFailedErr) {
		// counter changed between WATCH and EXEC
		return false, nil
	}
	return stored, err
}
