// Package metrics provides Prometheus instrumentation for digestd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued counts total digest jobs enqueued.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "jobs_enqueued_total",
		Help:      "Total number of digest jobs enqueued.",
	}, []string{"channel", "tier"})

	// JobsLeased counts total jobs leased by workers.
	JobsLeased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "jobs_leased_total",
		Help:      "Total number of jobs leased.",
	})

	// JobsSettled counts terminal job outcomes by state.
	JobsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "jobs_settled_total",
		Help:      "Total number of jobs reaching a terminal state.",
	}, []string{"state", "error_kind"})

	// JobsPostponed counts quota postponements.
	JobsPostponed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "jobs_postponed_total",
		Help:      "Total number of jobs postponed on quota denial.",
	})

	// JobDuration tracks processing duration (lease to terminal).
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "digest",
		Name:      "job_duration_seconds",
		Help:      "Duration of job processing in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"state"})

	// QuotaDecisions counts limiter outcomes.
	QuotaDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "quota_decisions_total",
		Help:      "Total quota check decisions.",
	}, []string{"tier", "decision"})

	// CompletionCalls counts external completion requests by outcome.
	CompletionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "completion_calls_total",
		Help:      "Total completion service calls.",
	}, []string{"outcome"})

	// CompletionDuration tracks completion call latency including inner retries.
	CompletionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "digest",
		Name:      "completion_duration_seconds",
		Help:      "Duration of completion service calls in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// CompletionFallbacks counts jobs resolved by the extractive fallback.
	CompletionFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "completion_fallbacks_total",
		Help:      "Total digests produced by the local fallback.",
	})

	// CompletionTokens counts tokens reported by the completion service.
	CompletionTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "completion_tokens_total",
		Help:      "Total tokens consumed at the completion service.",
	})

	// DueJobsPromoted counts jobs promoted from the due index back onto the queue.
	DueJobsPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "due_jobs_promoted_total",
		Help:      "Total parked jobs promoted back onto the queue.",
	})

	// WorkersActive tracks the number of workers currently processing a job.
	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "digest",
		Name:      "workers_active",
		Help:      "Number of workers currently processing a job.",
	})

	// ServerInfo exposes static server metadata as labels.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "digest",
		Name:      "server_info",
		Help:      "Static server metadata.",
	}, []string{"version", "backend"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digest",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "digest",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})
)

// Init sets static server metadata on the info metric.
func Init(version, backend string) {
	ServerInfo.WithLabelValues(version, backend).Set(1)
}
