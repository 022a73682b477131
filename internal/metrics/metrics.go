package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_harvester_tasks_enqueued_total",
		Help: "Total number of tasks added to the work queue",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_harvester_tasks_completed_total",
		Help: "Total number of tasks completed",
	})

	TasksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_harvester_tasks_retried_total",
		Help: "Total number of failed attempts scheduled for retry",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_harvester_tasks_failed_total",
		Help: "Total number of tasks that exhausted their retries",
	})

	DuplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_harvester_duplicates_skipped_total",
		Help: "Downloads skipped because the content was already known",
	}, []string{"kind"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "media_harvester_fetch_duration_seconds",
		Help:    "Fetch duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	FetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_harvester_fetch_bytes_total",
		Help: "Total bytes fetched",
	})

	FingerprintsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_harvester_fingerprints_registered_total",
		Help: "Total number of new fingerprint records",
	})

	ScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_harvester_scan_errors_total",
		Help: "Files skipped during scans because they could not be hashed",
	})
)

// Duplicate kinds for DuplicatesSkipped.
const (
	DuplicateURL     = "url"
	DuplicateContent = "content"
)
