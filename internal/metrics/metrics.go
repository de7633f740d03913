package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stopro_jobs_submitted_total",
			Help: "Total number of jobs published to the broker",
		},
		[]string{"task"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stopro_jobs_completed_total",
			Help: "Total number of jobs finished by workers",
		},
		[]string{"task", "status", "error_kind"}, // status: SUCCESS | FAILURE
	)

	JobsRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stopro_jobs_recovered_total",
			Help: "Total number of jobs requeued from stale workers",
		},
	)

	DuplicateDeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stopro_duplicate_deliveries_total",
			Help: "Redelivered jobs skipped because they already finished",
		},
	)

	PingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stopro_liveness_pings_total",
			Help: "Liveness probe outcomes",
		},
		[]string{"result"}, // connected | disconnected
	)

	// Gauges
	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stopro_queue_length",
			Help: "Current number of jobs waiting in each queue",
		},
		[]string{"queue"},
	)

	RunningJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stopro_running_jobs",
			Help: "Current number of jobs being executed by this process",
		},
	)

	// Buckets: 10ms to ~163s
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stopro_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"task"},
	)
)
