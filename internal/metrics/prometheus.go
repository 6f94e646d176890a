// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LockOperationsTotal tracks lock operations by operation and outcome.
	LockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_operations_total",
			Help: "Total lock operations by operation (acquire/renew/release/force_release) and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// LockStoreOperationDuration tracks lock store operation duration.
	LockStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lock_store_operation_duration_seconds",
			Help:    "Lock store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// LifecycleReleasesTotal tracks bulk releases by lifecycle trigger.
	LifecycleReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_releases_total",
			Help: "Total locks released by lifecycle trigger (user_removed/session_ended)",
		},
		[]string{"trigger"},
	)

	// HTTPRequestsTotal tracks total HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RecordLockOperation records a lock operation outcome.
func RecordLockOperation(operation, outcome string) {
	LockOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveStoreOperation records a lock store operation duration.
func ObserveStoreOperation(operation string, seconds float64) {
	LockStoreOperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordLifecycleRelease records locks released by a lifecycle trigger.
func RecordLifecycleRelease(trigger string, count int) {
	LifecycleReleasesTotal.WithLabelValues(trigger).Add(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
