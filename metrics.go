package alyamem

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the memory engine. Registered once on the
// default registry; the hosting process exposes them however it
// exposes the rest of its metrics.
var (
	metricTurnsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alyamem_turns_appended_total",
			Help: "Turns durably appended, by role",
		},
		[]string{"role"},
	)

	metricDedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alyamem_append_dedup_hits_total",
			Help: "Appends collapsed by the retry dedup window",
		},
	)

	metricEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alyamem_window_evictions_total",
			Help: "Sliding-window evictions completed",
		},
	)

	metricTurnsSummarized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alyamem_turns_summarized_total",
			Help: "Turns compacted into summaries by eviction",
		},
	)

	metricRetrievalFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alyamem_retrieval_fallbacks_total",
			Help: "Retrievals that fell back to the lexical strategy",
		},
		[]string{"strategy"},
	)

	metricLevelChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alyamem_relationship_level_changes_total",
			Help: "Relationship level transitions",
		},
		[]string{"from", "to"},
	)

	metricProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alyamem_process_turn_duration_seconds",
			Help:    "End-to-end ProcessTurn latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func observeAppend(role Role) { metricTurnsAppended.WithLabelValues(string(role)).Inc() }
func observeDedupHit()        { metricDedupHits.Inc() }
func observeEviction(turns int) {
	metricEvictions.Inc()
	metricTurnsSummarized.Add(float64(turns))
}
func observeRetrievalFallback(strategy string) {
	metricRetrievalFallbacks.WithLabelValues(strategy).Inc()
}
func observeLevelChange(from, to string) {
	metricLevelChanges.WithLabelValues(from, to).Inc()
}
