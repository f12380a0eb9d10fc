// Package metrics holds the Prometheus collectors for the chatbot pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragbot_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragbot_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"outcome"},
	)

	MockSubstitutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragbot_mock_substitutions_total",
			Help: "Answers served by the offline mock provider after a quota failure",
		},
		[]string{"provider"},
	)

	CompletionFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragbot_completion_fallbacks_total",
			Help: "Completion model switches after resource exhaustion",
		},
		[]string{"from", "to"},
	)

	DimensionReconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragbot_dimension_reconciliations_total",
			Help: "Embedding model switches after a dimension mismatch",
		},
		[]string{"stage"},
	)

	TrainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragbot_training_runs_total",
			Help: "Training runs by final status",
		},
		[]string{"status"},
	)

	TrainingChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragbot_training_chunks_total",
			Help: "Total chunks indexed by training runs",
		},
	)

	EmbeddingCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragbot_embedding_cache_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		QueryDuration,
		QueryTotal,
		MockSubstitutions,
		CompletionFallbacks,
		DimensionReconciliations,
		TrainingRuns,
		TrainingChunks,
		EmbeddingCache,
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
