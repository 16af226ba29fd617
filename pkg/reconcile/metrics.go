package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for reconciliation passes.
var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_reconcile_passes_total",
		Help: "Total reconciliation passes by trigger and outcome",
	}, []string{"trigger", "outcome"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_reconcile_pass_duration_seconds",
		Help:    "Reconciliation pass duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_reconcile_retries_total",
		Help: "Total cart fetch retries during reconciliation",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_reconcile_retry_backoff_seconds",
		Help:    "Backoff duration before a cart fetch retry",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	})

	cartSyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_syncs_total",
		Help: "Total cart snapshots forwarded to inventory",
	})
)

// Pass outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
	OutcomeCancelled  = "cancelled"
)
