// Package metrics holds the Prometheus instruments for the ingestion and
// extraction pipeline. Instruments register themselves on the default
// registry; the server exposes them at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsFinished counts documents reaching a terminal state.
	// Labels: status (ready, failed)
	DocumentsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excerpo",
			Subsystem: "ingest",
			Name:      "documents_finished_total",
			Help:      "Documents that reached a terminal lifecycle state",
		},
		[]string{"status"},
	)

	// DocumentChunks tracks how many chunks each stored document produced.
	DocumentChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "excerpo",
			Subsystem: "ingest",
			Name:      "chunks_per_document",
			Help:      "Chunk count per successfully stored document",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// JobsFinished counts background jobs by kind and final status.
	// Labels: kind (indexing, extraction), status (completed, failed)
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excerpo",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Background jobs that reached a final status",
		},
		[]string{"kind", "status"},
	)

	// ProviderRetries counts retried LLM provider calls.
	// Labels: operation (claude completion, gemini completion, gemini embedding)
	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excerpo",
			Subsystem: "llm",
			Name:      "provider_retries_total",
			Help:      "Provider calls retried after rate limits or transient errors",
		},
		[]string{"operation"},
	)

	// VectorUpsertDuration tracks vector index write latency.
	VectorUpsertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "excerpo",
			Subsystem: "vector",
			Name:      "upsert_duration_seconds",
			Help:      "Duration of vector index upsert batches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// RecordDocumentFinished records a document entering a terminal state.
func RecordDocumentFinished(status string) {
	DocumentsFinished.WithLabelValues(status).Inc()
}

// ObserveDocumentChunks records the chunk count of a stored document.
func ObserveDocumentChunks(count int) {
	DocumentChunks.Observe(float64(count))
}

// RecordJobFinished records a background job reaching a final status.
func RecordJobFinished(kind, status string) {
	JobsFinished.WithLabelValues(kind, status).Inc()
}

// RecordProviderRetry records one retried provider call.
func RecordProviderRetry(operation string) {
	ProviderRetries.WithLabelValues(operation).Inc()
}

// ObserveVectorUpsert records the elapsed time of an upsert batch.
func ObserveVectorUpsert(start time.Time) {
	VectorUpsertDuration.Observe(time.Since(start).Seconds())
}
