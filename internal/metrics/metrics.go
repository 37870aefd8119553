package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics for the status API
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets, // Default: .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Benchmark metrics
var (
	// RequestsTotal counts chat-completion attempts by run and outcome
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbench_requests_total",
			Help: "Total number of chat-completion attempts by run and outcome (success, error)",
		},
		[]string{"run", "outcome"},
	)

	// RequestLatency tracks successful chat-completion latency
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "llmbench_request_latency_seconds",
			Help: "Latency of successful chat-completion requests by run",
			// Buckets: 100ms to ~102s
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 11),
		},
		[]string{"run"},
	)

	// ResponseScore tracks keyword scores of responses
	ResponseScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmbench_response_score",
			Help:    "Keyword score of responses by run",
			Buckets: prometheus.LinearBuckets(0, 0.25, 5), // 0, .25, .5, .75, 1
		},
		[]string{"run"},
	)

	// RunsTotal counts finished runs by terminal status
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbench_runs_total",
			Help: "Total number of finished runs by status (completed, failed)",
		},
		[]string{"status"},
	)

	// RunDuration tracks wall-clock time from launch to teardown
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmbench_run_duration_seconds",
			Help:    "Duration of a run from launch to teardown by status",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~85min
		},
		[]string{"status"},
	)

	// ServerReadyDuration tracks how long the server took to answer the models endpoint
	ServerReadyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llmbench_server_ready_seconds",
			Help:    "Time from launch until the inference server reported ready",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~2min
		},
	)

	// SystemCPUPercent is the latest system CPU sample
	SystemCPUPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmbench_system_cpu_percent",
			Help: "Most recent system-wide CPU utilisation sample by run",
		},
		[]string{"run"},
	)

	// ServerCPUPercent is the latest server process CPU sample
	ServerCPUPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmbench_server_cpu_percent",
			Help: "Most recent inference server process CPU utilisation sample by run",
		},
		[]string{"run"},
	)

	// ServerRSSMegabytes is the latest server process resident memory sample
	ServerRSSMegabytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmbench_server_rss_megabytes",
			Help: "Most recent inference server resident set size in MB by run",
		},
		[]string{"run"},
	)
)

// Helper functions for common metric operations

// RecordRequest records one chat-completion attempt.
// Latency and score are only observed for successful attempts.
func RecordRequest(run string, success bool, latency time.Duration, score float64) {
	if !success {
		RequestsTotal.WithLabelValues(run, "error").Inc()
		return
	}
	RequestsTotal.WithLabelValues(run, "success").Inc()
	RequestLatency.WithLabelValues(run).Observe(latency.Seconds())
	ResponseScore.WithLabelValues(run).Observe(score)
}

// RecordRunFinished records a run reaching a terminal status
func RecordRunFinished(status string, duration time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordServerReady records how long readiness took
func RecordServerReady(duration time.Duration) {
	ServerReadyDuration.Observe(duration.Seconds())
}

// RecordResourceSample updates the resource gauges. Process gauges are left
// untouched when the process could not be read.
func RecordResourceSample(run string, systemCPU float64, procCPU, procRSSMB *float64) {
	SystemCPUPercent.WithLabelValues(run).Set(systemCPU)
	if procCPU != nil {
		ServerCPUPercent.WithLabelValues(run).Set(*procCPU)
	}
	if procRSSMB != nil {
		ServerRSSMegabytes.WithLabelValues(run).Set(*procRSSMB)
	}
}

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}
