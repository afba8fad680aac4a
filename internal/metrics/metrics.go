package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_queries_total",
			Help: "Total number of answered queries",
		},
		[]string{"mode", "cache"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_query_duration_seconds",
			Help:    "End-to-end query latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"cache"},
	)

	AnswerConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_answer_confidence",
			Help:    "Confidence of synthesized answers",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"mode"},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "orchestrator_retrieval_duration_seconds",
			Help: "Duration of structured and semantic retrieval in seconds",
		},
		[]string{"source"},
	)

	RetrievalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_retrieval_errors_total",
			Help: "Total number of retrieval failures by kind",
		},
		[]string{"source", "kind"},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_cache_operations_total",
			Help: "Total number of cache operations by result",
		},
		[]string{"op", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)

	ComponentHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "component_healthy",
			Help: "1 when the last health check of a component passed",
		},
		[]string{"component"},
	)
)
