package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	EmailsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_emails_scheduled_total", Help: "Emails created with a delivery job"},
	)

	JobsAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_acquired_total", Help: "Due jobs claimed from the queue"},
	)
	JobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_job_outcomes_total", Help: "Job executions by outcome"},
		[]string{"outcome"},
	)
	JobsFailedPermanent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_failed_permanent_total", Help: "Jobs that exhausted their attempts"},
	)
	QuotaDeferrals = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_quota_deferrals_total", Help: "Jobs pushed to the next hour by the sender quota"},
	)
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "worker_jobs_in_flight", Help: "Jobs currently held by a worker slot"},
	)
	TransportSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_transport_send_duration_seconds",
			Help:    "Time spent in the mail transport",
			Buckets: prometheus.DefBuckets,
		},
	)
	WorkerProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_job_process_duration_seconds",
			Help:    "Time spent processing a job, including the pacing pause",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration, EmailsScheduledTotal,
		JobsAcquired, JobOutcomes, JobsFailedPermanent, QuotaDeferrals, JobsInFlight,
		TransportSendDuration, WorkerProcessDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
