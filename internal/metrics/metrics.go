package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RecomputeTotal counts rollup/graph recompute units by outcome.
	RecomputeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewire_recompute_total",
			Help: "Recompute units processed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// CacheRequests counts cache lookups by category and result.
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewire_cache_requests_total",
			Help: "Cache lookups, by category and result (hit, stale, miss, collapsed)",
		},
		[]string{"category", "result"},
	)

	// TrendingTags tracks how many tags the last scorer pass flagged.
	TrendingTags = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsewire_trending_tags",
			Help: "Tags flagged trending by the last scorer pass",
		},
	)

	// EventsIngested counts accepted events by kind.
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewire_events_ingested_total",
			Help: "Events accepted by the ingestion endpoint, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(RecomputeTotal)
	prometheus.MustRegister(CacheRequests)
	prometheus.MustRegister(TrendingTags)
	prometheus.MustRegister(EventsIngested)
}
