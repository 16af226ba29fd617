// Package metrics exposes the Prometheus registry of the storefront service.
// All metrics are defined in their respective packages (cache, backend,
// reconcile, server) to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and the reference for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - storefront_cache_hits_total{store} (Counter): Fresh entries served by store (memory, redis)
//   - storefront_cache_misses_total (Counter): Lookups with no entry
//   - storefront_cache_expired_total (Counter): Stale entries deleted on read
//   - storefront_cache_evictions_total{store} (Counter): Entries evicted by the capacity bound
//   - storefront_cache_errors_total{operation} (Counter): Store errors by operation
//   - storefront_cache_fetches_total{outcome} (Counter): Cached fetches by outcome
//     (hit, network, shared, status_error, transport_error, parse_error)
//
// Backend Metrics (pkg/backend):
//   - storefront_backend_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - storefront_backend_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - storefront_backend_errors_total{class} (Counter): Errors by class (client, server, network)
//
// Reconciliation Metrics (pkg/reconcile):
//   - storefront_reconcile_passes_total{trigger, outcome} (Counter): Passes by trigger
//     (mount, navigation, focus, visibility) and outcome (ok, failed, superseded, cancelled)
//   - storefront_reconcile_pass_duration_seconds (Histogram): Pass duration including retries
//   - storefront_reconcile_retries_total (Counter): Cart fetch retries
//   - storefront_reconcile_retry_backoff_seconds (Histogram): Backoff before a retry
//   - storefront_cart_syncs_total (Counter): Cart snapshots forwarded to inventory
//
// HTTP Metrics (internal/server):
//   - storefront_http_requests_total{route, code} (Counter): Handled requests
//   - storefront_sessions_active (Gauge): Mounted sessions
//   - storefront_lifecycle_events_total{kind} (Counter): Lifecycle events received
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(storefront_cache_hits_total[5m])) /
//   (sum(rate(storefront_cache_hits_total[5m])) + sum(rate(storefront_cache_misses_total[5m])))
//
//   # Superseded pass ratio
//   sum(rate(storefront_reconcile_passes_total{outcome="superseded"}[5m])) /
//   sum(rate(storefront_reconcile_passes_total[5m]))
//
//   # P95 Backend Latency
//   histogram_quantile(0.95, rate(storefront_backend_request_duration_seconds_bucket[5m]))
