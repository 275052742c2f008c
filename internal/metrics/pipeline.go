package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion and retrieval Prometheus metrics.
var (
	IngestDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuepilot",
			Name:      "ingest_documents_total",
			Help:      "Total documents processed by ingestion runs",
		},
		[]string{"status"}, // "ok" / "failed"
	)

	IngestChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "issuepilot",
			Name:      "ingest_chunks_total",
			Help:      "Total chunks indexed by ingestion runs",
		},
	)

	IngestRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "issuepilot",
			Name:      "ingest_run_duration_seconds",
			Help:      "Ingestion run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuepilot",
			Name:      "search_requests_total",
			Help:      "Total vector search requests",
		},
		[]string{"status"},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "issuepilot",
			Name:      "search_duration_seconds",
			Help:      "Vector search duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	IndexEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "issuepilot",
			Name:      "index_entries",
			Help:      "Current number of entries in the vector index",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers ingestion and retrieval metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestDocumentsTotal)
	prometheus.MustRegister(IngestChunksTotal)
	prometheus.MustRegister(IngestRunDuration)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(IndexEntries)
	pipelineMetricsRegistered = true
}
