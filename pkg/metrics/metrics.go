package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Query metrics
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_queries_total",
			Help: "Total number of search queries by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_query_duration_seconds",
			Help:    "Search query duration in seconds by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	ResultsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_results_returned",
			Help:    "Number of results returned per query after fusion",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	// Indexing metrics
	RecordsIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_records_indexed_total",
			Help: "Total number of records written by strategy",
		},
		[]string{"strategy"},
	)

	RecordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_records_dropped_total",
			Help: "Total number of rows dropped during record building",
		},
	)

	IndexErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_index_errors_total",
			Help: "Total number of indexing failures by strategy",
		},
		[]string{"strategy"},
	)

	// Queue metrics
	JobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by queue",
		},
		[]string{"queue"},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_jobs_processed_total",
			Help: "Total number of jobs processed by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "search_queue_depth",
			Help: "Current number of waiting jobs by queue",
		},
		[]string{"queue"},
	)

	// Reindex metrics
	ReindexRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_reindex_runs_total",
			Help: "Total number of reindex runs by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	ReindexDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_reindex_duration_seconds",
			Help:    "Reindex run duration in seconds by type",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"type"},
	)

	// Coverage metrics
	VectorCoverage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "search_vector_coverage",
			Help: "Number of vector-indexed records by tenant and entity",
		},
		[]string{"tenant", "entity"},
	)
)

func init() {
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(ResultsReturned)
	prometheus.MustRegister(RecordsIndexed)
	prometheus.MustRegister(RecordsDropped)
	prometheus.MustRegister(IndexErrors)
	prometheus.MustRegister(JobsEnqueued)
	prometheus.MustRegister(JobsProcessed)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ReindexRuns)
	prometheus.MustRegister(ReindexDuration)
	prometheus.MustRegister(VectorCoverage)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
