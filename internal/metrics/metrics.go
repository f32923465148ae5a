// Package metrics exposes Prometheus collectors for the sync pipeline.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Record outcomes.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeFailed  = "failed"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_api_requests_total",
			Help: "GitHub API attempts, labeled by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	apiRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_api_retries_total",
			Help: "GitHub API attempts that were retried after backoff, labeled by endpoint.",
		},
		[]string{"endpoint"},
	)

	quotaWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reposync_quota_wait_seconds",
			Help:    "Time spent waiting for a GitHub quota pool to reset.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reposync_rate_limit_delay_seconds",
			Help:    "Client-side pacing delay before a GitHub API call.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_records_total",
			Help: "Queue items processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	warningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_warnings_total",
			Help: "Recoverable problems reported during a run, labeled by context.",
		},
		[]string{"context"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reposync_active_workers",
			Help: "Number of workers currently processing an item.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_http_requests_total",
			Help: "Status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reposync_http_request_duration_seconds",
			Help:    "Status server request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPIRequest counts one GitHub API attempt. code 0 means the request
// failed before a response arrived.
func ObserveAPIRequest(endpoint string, code int) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	apiRequestsTotal.WithLabelValues(endpoint, label).Inc()
}

// ObserveRetry counts a retried GitHub API attempt.
func ObserveRetry(endpoint string) {
	apiRetriesTotal.WithLabelValues(endpoint).Inc()
}

// ObserveQuotaWait records a quota governor sleep.
func ObserveQuotaWait(d time.Duration) {
	quotaWaitSeconds.Observe(d.Seconds())
}

// ObserveRateLimitDelay records a client-side pacing wait.
func ObserveRateLimitDelay(d time.Duration) {
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObserveRecord counts a processed queue item.
func ObserveRecord(outcome string) {
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWarning counts a reported warning.
func ObserveWarning(name string) {
	warningsTotal.WithLabelValues(name).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest records a status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the default registry to a Prometheus Pushgateway. An empty url
// disables the push.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
