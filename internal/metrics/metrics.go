package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sweep metrics
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqialert_sweeps_total",
			Help: "Total number of sweeps by outcome",
		},
		[]string{"outcome"}, // completed, failed, rejected
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aqialert_sweep_duration_seconds",
			Help:    "Wall time of a full sweep",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	PairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqialert_pairs_total",
			Help: "Monitored (user, location) pairs seen by the poller",
		},
		[]string{"result"}, // polled, cooldown, failed
	)

	// Alert metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqialert_alerts_created_total",
			Help: "Total number of alert records created",
		},
		[]string{"severity"},
	)

	// Provider metrics
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqialert_provider_requests_total",
			Help: "Total number of AQI provider fetches",
		},
		[]string{"status"}, // ok, no_data, unavailable, malformed
	)

	ProviderRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aqialert_provider_request_duration_seconds",
			Help:    "Latency of AQI provider fetches",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)
