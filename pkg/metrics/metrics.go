// Package metrics exposes prometheus instrumentation for both worker
// pipelines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestJobs counts ingestion jobs by outcome
	// (completed, failed, missing).
	IngestJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treeline_ingest_jobs_total",
		Help: "Ingestion jobs processed, by outcome.",
	}, []string{"outcome"})

	// IngestDuration observes end-to-end document processing time.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "treeline_ingest_duration_seconds",
		Help:    "End-to-end document processing time.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// QueryJobs counts query jobs by outcome (completed, failed).
	QueryJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treeline_query_jobs_total",
		Help: "Query jobs processed, by outcome.",
	}, []string{"outcome"})

	// QueryDuration observes wall time per query.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "treeline_query_duration_seconds",
		Help:    "Wall time per answered query.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// QueryIterations observes agent loop length per query.
	QueryIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "treeline_query_iterations",
		Help:    "Agent loop iterations per query.",
		Buckets: []float64{1, 2, 3},
	})
)

// Serve exposes /metrics on addr. It blocks, so run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
