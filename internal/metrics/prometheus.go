// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LockAcquisitions tracks acquire attempts by backend and result (acquired, contended, error).
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_lock_acquisitions_total",
			Help: "Total lock acquire attempts by backend and result",
		},
		[]string{"backend", "result"},
	)

	// LockChecks tracks lock checks by outcome (free, self, held, error).
	LockChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_lock_checks_total",
			Help: "Total lock checks by outcome",
		},
		[]string{"outcome"},
	)

	// LockReleases tracks lock releases by kind (unconditional, holder).
	LockReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_lock_releases_total",
			Help: "Total lock releases by kind",
		},
		[]string{"kind"},
	)

	// LockForcedTakeovers tracks unconditional acquisitions that replaced a live holder.
	LockForcedTakeovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rating_lock_forced_takeovers_total",
			Help: "Total forced acquisitions that overwrote a live holder",
		},
	)

	// LocksSwept tracks expired lock records removed by the sweeper.
	LocksSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rating_locks_swept_total",
			Help: "Total expired lock records removed by the sweeper",
		},
	)

	// RatingWrites tracks guarded rating writes by result (committed, mismatch, rejected, error).
	RatingWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_writes_total",
			Help: "Total guarded rating writes by result",
		},
		[]string{"result"},
	)

	// RatingDeletes tracks guarded rating deletes by result (committed, absent, error).
	RatingDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_deletes_total",
			Help: "Total guarded rating deletes by result",
		},
		[]string{"result"},
	)

	// EditSessions tracks caller workflow outcomes by operation and outcome.
	EditSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_edit_sessions_total",
			Help: "Total edit workflow runs by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// StorageOperationDuration tracks storage round trips by operation.
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rating_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
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

	// CacheHits tracks cache hit/miss ratio.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total cache operations by type (hit/miss)",
		},
		[]string{"cache", "result"},
	)

	// EventsPublished tracks change notifications by type and status.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_events_published_total",
			Help: "Total change events published by type and status",
		},
		[]string{"type", "status"},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RecordLockAcquisition records a lock acquire attempt.
func RecordLockAcquisition(backend, result string) {
	LockAcquisitions.WithLabelValues(backend, result).Inc()
}

// RecordLockCheck records a lock check outcome.
func RecordLockCheck(outcome string) {
	LockChecks.WithLabelValues(outcome).Inc()
}

// RecordLockRelease records a lock release.
func RecordLockRelease(kind string) {
	LockReleases.WithLabelValues(kind).Inc()
}

// RecordForcedTakeover records a forced acquisition over a live holder.
func RecordForcedTakeover() {
	LockForcedTakeovers.Inc()
}

// RecordLocksSwept records expired lock records removed by the sweeper.
func RecordLocksSwept(count int64) {
	LocksSwept.Add(float64(count))
}

// RecordRatingWrite records a guarded rating write result.
func RecordRatingWrite(result string) {
	RatingWrites.WithLabelValues(result).Inc()
}

// RecordRatingDelete records a guarded rating delete result.
func RecordRatingDelete(result string) {
	RatingDeletes.WithLabelValues(result).Inc()
}

// RecordEditSession records the outcome of an edit workflow run.
func RecordEditSession(operation, outcome string) {
	EditSessions.WithLabelValues(operation, outcome).Inc()
}

// RecordStorageOperation records a storage operation duration.
func RecordStorageOperation(operation string, seconds float64) {
	StorageOperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordCacheOperation records a cache operation.
func RecordCacheOperation(cache, result string) {
	CacheHits.WithLabelValues(cache, result).Inc()
}

// RecordEventPublished records a published change event.
func RecordEventPublished(eventType, status string) {
	EventsPublished.WithLabelValues(eventType, status).Inc()
}
