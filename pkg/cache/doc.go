// Package cache provides the storefront response cache.
//
// The cache maps a request fingerprint to a parsed JSON payload with a
// freshness window. It exists to avoid redundant round-trips to the
// commerce backend for idempotent reads, and degrades to "just fetch again"
// rather than ever serving a payload past its TTL:
//
// - Entries are valid iff now - CreatedAt <= TTL
// - Staleness is detected on read; the reading Get deletes the entry
// - No background sweep, no eviction beyond TTL unless a capacity bound is set
// - Deterministic keys from target, method, identity headers and body
// - Non-2xx responses are returned as *StatusError and never cached
// - Optional single-flight join of concurrent identical misses
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Construct the cache explicitly in the composition root
//	c := cache.NewMemory[json.RawMessage](cache.Config{})
//	fetcher := cache.NewFetcher(c, httpClient, cache.FetcherConfig{})
//
//	// Cached read (one network call per TTL window)
//	product, err := cache.FetchJSON[Product](ctx, fetcher,
//		"https://backend.example/products/p-1", cache.FetchOptions{}, 0)
//
// # Direct Access
//
//	c.Set(ctx, "a", payload, time.Second)
//	v, ok := c.Get(ctx, "a")
//	c.Clear(ctx) // locale or session change
//
// # Shared Store
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := cache.New[json.RawMessage](cache.NewRedisStore[json.RawMessage](redisClient, ""), cache.Config{})
//
// # Metrics
//
//   - storefront_cache_hits_total{store} - Cache hits
//   - storefront_cache_misses_total - Cache misses (absent or stale)
//   - storefront_cache_expired_total - Stale entries purged on read
//   - storefront_cache_evictions_total{store} - Capacity evictions
//   - storefront_cache_errors_total{operation} - Store operation errors
//   - storefront_cache_fetches_total{outcome} - Cached fetches by outcome
package cache
