package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated tracks jobs accepted for classification
	JobsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_jobs_created_total",
			Help: "Total number of classification jobs created",
		},
	)

	// JobsCompleted tracks jobs leaving the registry per terminal status
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_jobs_completed_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	// ActiveJobs tracks the size of the active job registry
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classifier_active_jobs",
			Help: "Number of jobs currently queued or in progress",
		},
	)

	// JobDuration tracks time from creation to terminal status
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_job_duration_seconds",
			Help:    "Time from job creation to completion in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// RetriesScheduled tracks failures that were given another attempt
	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_retries_scheduled_total",
			Help: "Total number of failed jobs scheduled for retry",
		},
	)

	// DeadLetters tracks jobs that exhausted the backoff schedule
	DeadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_dead_letters_total",
			Help: "Total number of jobs dead-lettered after exhausting retries",
		},
	)

	// JobsResurfaced tracks due retry records handed back for execution
	JobsResurfaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_jobs_resurfaced_total",
			Help: "Total number of retry records recovered for another attempt",
		},
	)

	// RetryRecords tracks stored retry records per status
	RetryRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "classifier_retry_records",
			Help: "Number of stored retry records",
		},
		[]string{"status"},
	)

	// CacheLookups tracks majority-vote lookups per result (hit, below_threshold, miss, error)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_cache_lookups_total",
			Help: "Total number of classification history lookups",
		},
		[]string{"result"},
	)

	// ProviderCalls tracks provider calls per provider and outcome
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_provider_calls_total",
			Help: "Total number of classification provider calls",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_provider_latency_seconds",
			Help:    "Classification provider latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// LedgerWritebacks tracks category write-backs to the ledger
	LedgerWritebacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_ledger_writebacks_total",
			Help: "Total number of transactions written back to the ledger",
		},
		[]string{"outcome"},
	)

	// WebhookRequests tracks incoming webhooks per result
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_webhook_requests_total",
			Help: "Total number of webhook requests",
		},
		[]string{"result"},
	)

	// DBConnectionPoolUsage tracks the database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classifier_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
