// Package metrics exposes prometheus metrics for the filter engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Filter run metrics
var (
	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filtra_messages_processed_total",
			Help: "Total number of messages run through the filter engine",
		},
		[]string{"status"},
	)

	FiltersMatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filtra_filters_matched_total",
			Help: "Total number of filter matches",
		},
		[]string{"filter"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filtra_operations_total",
			Help: "Total number of filter operations executed",
		},
		[]string{"kind", "status"},
	)

	ResolveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filtra_resolve_errors_total",
			Help: "Total number of field resolution failures treated as non-matches",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filtra_run_duration_seconds",
			Help:    "Duration of whole filter runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Index metrics
var (
	IndexQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filtra_index_queries_total",
			Help: "Total number of mail index queries executed",
		},
		[]string{"operation", "status"},
	)

	IndexQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filtra_index_query_duration_seconds",
			Help:    "Duration of mail index queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)
)
