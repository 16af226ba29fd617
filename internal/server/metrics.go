package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "Total HTTP requests handled by route and status code",
	}, []string{"route", "code"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_sessions_active",
		Help: "Number of mounted storefront sessions",
	})

	lifecycleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_lifecycle_events_total",
		Help: "Total lifecycle events received by kind",
	}, []string{"kind"})
)
