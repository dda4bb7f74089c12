package metrics

import "github.com/prometheus/client_golang/prometheus"

// Persistence Prometheus metrics.
var (
	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdx",
			Name:      "persistence_queries_total",
			Help:      "Total number of persistence queries",
		},
		[]string{"operation", "item_type", "status"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cdx",
			Name:      "persistence_query_duration_seconds",
			Help:      "Persistence query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "item_type"},
	)

	BulkFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdx",
			Name:      "bulk_flushes_total",
			Help:      "Total number of bulk processor flushes",
		},
		[]string{"trigger"}, // "actions" / "size" / "interval" / "close"
	)

	BulkActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdx",
			Name:      "bulk_actions_total",
			Help:      "Total bulk actions by outcome",
		},
		[]string{"op", "status"},
	)

	BulkRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cdx",
			Name:      "bulk_retries_total",
			Help:      "Total bulk batch retries after transport errors",
		},
	)

	BulkQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cdx",
			Name:      "bulk_queue_depth",
			Help:      "Actions currently buffered in the bulk processor",
		},
	)

	SavedQueriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cdx",
			Name:      "saved_queries_total",
			Help:      "Saved queries currently registered for percolation",
		},
	)
)

var persistenceMetricsRegistered bool

// RegisterPersistenceMetrics registers Prometheus persistence metrics. Must be called once from main.
func RegisterPersistenceMetrics() {
	if persistenceMetricsRegistered {
		return
	}
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(BulkFlushesTotal)
	prometheus.MustRegister(BulkActionsTotal)
	prometheus.MustRegister(BulkRetriesTotal)
	prometheus.MustRegister(BulkQueueDepth)
	prometheus.MustRegister(SavedQueriesTotal)
	persistenceMetricsRegistered = true
}
