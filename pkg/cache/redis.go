package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces cache keys inside a shared Redis database
	DefaultRedisPrefix = "storefront:cache:"

	// redisGrace keeps stale entries around long enough for the read path to
	// observe and delete them; the Redis TTL only reclaims keys nobody reads.
	redisGrace = time.Minute

	clearScanCount = 500
)

// RedisStore is a Store shared across service replicas.
type RedisStore[V any] struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis backed store. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore[V any](redisClient *redis.Client, prefix string) *RedisStore[V] {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore[V]{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Name implements Store.
func (s *RedisStore[V]) Name() string { return "redis" }

// Get implements Store.
func (s *RedisStore[V]) Get(ctx context.Context, key string) (*Entry[V], error) {
	data, err := s.redis.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry[V]
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return &entry, nil
}

// Set implements Store.
func (s *RedisStore[V]) Set(ctx context.Context, entry *Entry[V]) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, s.prefix+entry.Key, data, entry.TTL+redisGrace).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete implements Store.
func (s *RedisStore[V]) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// CompareAndDelete implements Store. The read and the delete run in a
// WATCH transaction, so a concurrent Set makes it a no-op.
func (s *RedisStore[V]) CompareAndDelete(ctx context.Context, entry *Entry[V]) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("cache entry cannot be nil")
	}

	key := s.prefix + entry.Key
	deleted := false
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}

		var current Entry[V]
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		if !current.SameWrite(entry) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Written concurrently; the new value stays.
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis compare and delete: %w", err)
	}
	return deleted, nil
}

// Clear deletes every key under the store prefix.
// It never flushes the database, other tenants may share it.
func (s *RedisStore[V]) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"*", clearScanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			if err := s.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
