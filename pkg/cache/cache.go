package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTTL is the freshness window used when no TTL is given
	DefaultTTL = 300 * time.Second
)

// Config holds cache configuration.
type Config struct {
	// DefaultTTL applies to Set calls with ttl <= 0
	DefaultTTL time.Duration

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time

	// Logger receives store errors (default: global logger)
	Logger *zerolog.Logger
}

// Cache maps request fingerprints to payloads with a freshness window.
//
// Staleness is detected on read only: a stale entry is deleted by the Get
// that observes it. There is no background sweep.
type Cache[V any] struct {
	store      Store[V]
	defaultTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates a cache over store.
func New[V any](store Store[V], cfg Config) *Cache[V] {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := log.With().Str("component", "cache").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Cache[V]{
		store:      store,
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Clock,
		logger:     logger.With().Str("store", store.Name()).Logger(),
	}
}

// NewMemory creates a cache over an unbounded MemoryStore.
func NewMemory[V any](cfg Config) *Cache[V] {
	return New[V](NewMemoryStore[V](0), cfg)
}

// Set inserts or overwrites the entry for key.
// A ttl <= 0 uses the default TTL. Store failures are logged, never returned.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	entry := &Entry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: c.now(),
		TTL:       ttl,
	}

	if err := c.store.Set(ctx, entry); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache set failed")
		return
	}

	c.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cached entry")
}

// Get returns the payload for key if present and fresh.
// A stale entry is deleted as a side effect and reported absent.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues("get").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache get failed")
		}
		CacheMisses.Inc()
		return zero, false
	}

	if !entry.Valid(c.now()) {
		// Only the stale write is removed; a fresh Set racing this read survives.
		if _, err := c.store.CompareAndDelete(ctx, entry); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache delete of stale entry failed")
		}
		CacheExpired.Inc()
		CacheMisses.Inc()
		c.logger.Debug().Str("key", key).Msg("Cache entry stale")
		return zero, false
	}

	CacheHits.WithLabelValues(c.store.Name()).Inc()
	return entry.Value, true
}

// Delete removes key regardless of freshness.
func (c *Cache[V]) Delete(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache delete failed")
	}
}

// Clear removes all entries unconditionally.
func (c *Cache[V]) Clear(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		c.logger.Warn().Err(err).Msg("Cache clear failed")
		return
	}
	c.logger.Info().Msg("Cache cleared")
}
