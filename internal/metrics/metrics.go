// Package metrics declares the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Redirects counts redirect resolutions by outcome (redirected, not_found, error)
	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_redirects_total",
			Help: "Redirect resolutions by outcome",
		},
		[]string{"outcome"},
	)

	RedirectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tether_redirect_duration_seconds",
			Help:    "Time spent resolving a short key",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_link_cache_lookups_total",
			Help: "Link cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_link_cache_evictions_total",
			Help: "Link cache entries evicted",
		},
	)

	// TrackingEnqueued counts tracking task submissions by result (ok, failed)
	TrackingEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_tracking_enqueued_total",
			Help: "Tracking task submissions by result",
		},
		[]string{"result"},
	)

	VisitsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_visits_recorded_total",
			Help: "Visits persisted by the tracking worker",
		},
	)

	TrackingDeadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_tracking_dead_letters_total",
			Help: "Tracking tasks moved to the poison queue after exhausting retries",
		},
	)

	EnrichmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_enrichment_failures_total",
			Help: "Geo and user agent enrichment failures",
		},
		[]string{"source"},
	)

	AggregationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_aggregation_runs_total",
			Help: "Analytics aggregation runs by result",
		},
		[]string{"result"},
	)
)
