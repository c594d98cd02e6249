// Package metrics exposes Prometheus instrumentation for the transcript pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished worker iterations by outcome (done/retried/orphaned).
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicescribe_jobs_total",
			Help: "Total number of processed transcript jobs by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration observes wall time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicescribe_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	// ChunksTranscribed counts audio chunks submitted to the transcription service.
	ChunksTranscribed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicescribe_chunks_transcribed_total",
			Help: "Total number of audio chunks transcribed",
		},
	)
)

// RecordOutcome increments the per-outcome job counter.
func RecordOutcome(outcome string) {
	JobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records one stage duration in seconds.
func ObserveStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}
