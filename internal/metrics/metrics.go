// Package metrics provides Prometheus metrics for the resource server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dial_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dial_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Blob store metrics
	blobOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dial_blob_operations_total",
			Help: "Total number of blob store operations",
		},
		[]string{"operation", "success"},
	)

	blobOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dial_blob_operation_duration_seconds",
			Help:    "Blob store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Resource service metrics
	resourceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dial_resource_operations_total",
			Help: "Total number of resource service operations",
		},
		[]string{"operation", "outcome"},
	)

	resourceCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dial_resource_cache_total",
			Help: "Resource cache lookups by result",
		},
		[]string{"result"},
	)

	// Background sync metrics
	syncSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dial_sync_sweep_duration_seconds",
			Help:    "Duration of one background sync sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	syncResourcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dial_sync_resources_total",
			Help: "Resources reconciled by the background sweep",
		},
		[]string{"result"},
	)

	syncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dial_sync_queue_depth",
			Help: "Number of keys pending in the sync queue",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dial_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)
)

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBlobOperation records a blob store operation.
func RecordBlobOperation(operation string, duration time.Duration, success bool) {
	blobOperationsTotal.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	blobOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResourceOperation records a resource service operation.
func RecordResourceOperation(operation, outcome string) {
	resourceOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordCacheLookup records a resource cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		resourceCacheTotal.WithLabelValues("hit").Inc()
	} else {
		resourceCacheTotal.WithLabelValues("miss").Inc()
	}
}

// RecordSyncSweep records one background sweep.
func RecordSyncSweep(duration time.Duration, synced, failed int) {
	syncSweepDuration.Observe(duration.Seconds())
	syncResourcesTotal.WithLabelValues("synced").Add(float64(synced))
	syncResourcesTotal.WithLabelValues("failed").Add(float64(failed))
}

// SetSyncQueueDepth updates the sync queue depth gauge.
func SetSyncQueueDepth(depth int64) {
	syncQueueDepth.Set(float64(depth))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	if success {
		authAttemptsTotal.WithLabelValues("success").Inc()
	} else {
		authAttemptsTotal.WithLabelValues("failure").Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
