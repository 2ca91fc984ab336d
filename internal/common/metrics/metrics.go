package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job worker metrics.
var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Generation pipeline metrics.
var (
	GenerationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_runs_total",
			Help: "Generation runs by mode and terminal status",
		},
		[]string{"mode", "status"},
	)

	GenerationQuestionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_question_attempts_total",
			Help: "Single-answer generation attempts by outcome",
		},
		[]string{"outcome"},
	)

	GenerationStaleResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_stale_results_total",
			Help: "Generation results discarded because the run token was no longer active",
		},
	)

	AutosaveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autosave_writes_total",
			Help: "Auto-save persistence calls by result",
		},
		[]string{"result"},
	)

	AutosaveSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autosave_skipped_total",
			Help: "Auto-save calls skipped because the snapshot matched the last saved one",
		},
	)

	CatalogCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_requests_total",
			Help: "Catalog redis cache lookups by result",
		},
		[]string{"result"},
	)
)
