package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Doer performs HTTP requests. *http.Client and backend.Client implement it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchOptions are the request options that take part in the cache key.
type FetchOptions struct {
	Method  string
	Headers http.Header
	Body    []byte
}

// StatusError is returned for non-2xx responses. Such responses are never cached.
type StatusError struct {
	Target     string
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.Target)
}

// FetcherConfig holds Fetcher configuration.
type FetcherConfig struct {
	// SingleFlight joins concurrent misses for the same key into one request.
	// The joined callers share the first caller's context.
	SingleFlight bool

	// IdentityHeaders extends the header names that take part in the key
	IdentityHeaders []string

	// Logger (default: global logger)
	Logger *zerolog.Logger
}

// Fetcher wraps a Doer with the response cache.
type Fetcher struct {
	cache  *Cache[json.RawMessage]
	doer   Doer
	config FetcherConfig
	group  singleflight.Group
	logger zerolog.Logger
}

// NewFetcher creates a cached fetcher.
func NewFetcher(c *Cache[json.RawMessage], doer Doer, cfg FetcherConfig) *Fetcher {
	if c == nil {
		panic("cache cannot be nil")
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	logger := log.With().Str("component", "cached-fetch").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Fetcher{
		cache:  c,
		doer:   doer,
		config: cfg,
		logger: logger,
	}
}

// Cache returns the underlying cache, used for hard resets.
func (f *Fetcher) Cache() *Cache[json.RawMessage] {
	return f.cache
}

// Key returns the cache key for a request.
func (f *Fetcher) Key(target string, opts FetchOptions) string {
	return RequestKey{
		Target:       target,
		Method:       opts.Method,
		Headers:      opts.Headers,
		Body:         opts.Body,
		ExtraHeaders: f.config.IdentityHeaders,
	}.String()
}

// Invalidate drops the cached payload for a request, if any.
func (f *Fetcher) Invalidate(ctx context.Context, target string, opts FetchOptions) {
	f.cache.Delete(ctx, f.Key(target, opts))
}

// Fetch returns the JSON payload for a request, from cache when fresh.
//
// On a miss the request is performed, the body is parsed as JSON and stored
// with ttl (ttl <= 0 uses the cache default). The returned payload is never
// shared with the cache or with other callers. Transport and parse errors are
// returned unchanged apart from wrapping; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, target string, opts FetchOptions, ttl time.Duration) (json.RawMessage, error) {
	key := f.Key(target, opts)

	if payload, ok := f.cache.Get(ctx, key); ok {
		FetchesTotal.WithLabelValues("hit").Inc()
		f.logger.Debug().Str("key", key).Msg("Cache hit")
		return payload, nil
	}

	if !f.config.SingleFlight {
		return f.fetchAndStore(ctx, key, target, opts, ttl)
	}

	v, err, shared := f.group.Do(key, func() (any, error) {
		return f.fetchAndStore(ctx, key, target, opts, ttl)
	})
	if shared {
		FetchesTotal.WithLabelValues("shared").Inc()
	}
	if err != nil {
		return nil, err
	}
	// Joined callers each get their own copy.
	return bytes.Clone(v.(json.RawMessage)), nil
}

func (f *Fetcher) fetchAndStore(ctx context.Context, key, target string, opts FetchOptions, ttl time.Duration) (json.RawMessage, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if opts.Headers != nil {
		req.Header = opts.Headers.Clone()
	}

	f.logger.Debug().Str("key", key).Str("method", method).Msg("Cache miss, fetching")

	resp, err := f.doer.Do(req)
	if err != nil {
		FetchesTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		FetchesTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		FetchesTotal.WithLabelValues("status_error").Inc()
		return nil, &StatusError{Target: target, StatusCode: resp.StatusCode, Body: data}
	}

	var payload json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		FetchesTotal.WithLabelValues("parse_error").Inc()
		return nil, fmt.Errorf("parse response from %s: %w", target, err)
	}

	f.cache.Set(ctx, key, bytes.Clone(payload), ttl)
	FetchesTotal.WithLabelValues("network").Inc()

	return payload, nil
}

// FetchJSON fetches through f and decodes the payload into T.
func FetchJSON[T any](ctx context.Context, f *Fetcher, target string, opts FetchOptions, ttl time.Duration) (T, error) {
	var out T

	payload, err := f.Fetch(ctx, target, opts, ttl)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
