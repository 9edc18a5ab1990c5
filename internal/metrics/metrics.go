package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsf_jobs_submitted_total",
			Help: "Total forecast jobs accepted",
		},
		[]string{"backend"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsf_jobs_finished_total",
			Help: "Total forecast jobs reaching a terminal state",
		},
		[]string{"state"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tsf_job_duration_seconds",
			Help:    "Wall time of one forecast pipeline run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	ModelFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsf_model_fallbacks_total",
			Help: "Walk-forward steps where a model fit failed and the EWMA fallback was used",
		},
		[]string{"model", "granularity"},
	)

	SeriesCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsf_series_cache_total",
			Help: "Daily series cache lookups",
		},
		[]string{"result"},
	)

	UploadRowsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tsf_upload_rows_rejected_total",
			Help: "Uploaded observation rows that failed to insert",
		},
	)

	JobFilesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tsf_job_files_removed_total",
			Help: "Job status and CSV files removed by the retention janitor",
		},
	)
)
