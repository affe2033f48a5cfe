// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		},
	)

	PollErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_poll_errors_total",
			Help: "Total number of per-form fetch failures",
		},
		[]string{"form_id"},
	)

	SubmissionsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_submissions_processed_total",
			Help: "Total number of submissions handled by the pipeline",
		},
		[]string{"form_id", "status"},
	)

	DuplicateSubmissionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_duplicate_submissions_total",
			Help: "Total number of idempotency guard hits",
		},
	)

	StageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_stage_failures_total",
			Help: "Total number of pipeline stage failures",
		},
		[]string{"stage", "error_code"},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_dead_letters_total",
			Help: "Total number of dead-lettered submissions",
		},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "intake_pipeline_duration_seconds",
			Help: "Duration of per-submission pipeline execution in seconds",
		},
		[]string{"form_id"},
	)

	FormsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_forms_in_flight",
			Help: "Number of forms currently being polled",
		},
	)
)

// Submission processing status label values.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusDuplicate = "duplicate"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
)
