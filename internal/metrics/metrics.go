// Package metrics provides Prometheus metrics for the LanVault server.
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
			Name: "lanvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lanvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// File operation metrics
	fileOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanvault_file_operations_total",
			Help: "Total file operations by type and outcome",
		},
		[]string{"operation", "status"},
	)

	fileOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lanvault_file_operation_duration_seconds",
			Help:    "File operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lanvault_bytes_downloaded_total",
			Help: "Total bytes served from content endpoints",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lanvault_bytes_uploaded_total",
			Help: "Total bytes received by upload endpoints",
		},
	)

	// Path resolution metrics
	pathViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lanvault_path_violations_total",
			Help: "Total rejected request paths (traversal, symlink escape)",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanvault_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	permissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanvault_permission_checks_total",
			Help: "Total authorization decisions",
		},
		[]string{"result"},
	)

	// Share link metrics
	shareLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lanvault_share_links_active",
			Help: "Number of share links currently stored",
		},
	)

	shareAccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanvault_share_access_total",
			Help: "Total share token resolutions",
		},
		[]string{"result"},
	)

	// Upload session metrics
	uploadSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lanvault_upload_sessions_active",
			Help: "Number of chunked upload sessions in flight",
		},
	)

	uploadSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanvault_upload_sessions_total",
			Help: "Total chunked upload sessions by final state",
		},
		[]string{"outcome"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lanvault_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanvault_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric. The route label is the
// registered pattern, not the raw URL, to keep cardinality bounded.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordFileOperation records a file operation outcome.
func RecordFileOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	fileOperationsTotal.WithLabelValues(operation, status).Inc()
	fileOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDownload records bytes served to a client.
func RecordDownload(bytes int64) {
	bytesDownloaded.Add(float64(bytes))
}

// RecordUpload records bytes received from a client.
func RecordUpload(bytes int64) {
	bytesUploaded.Add(float64(bytes))
}

// RecordPathViolation records a rejected request path.
func RecordPathViolation() {
	pathViolationsTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordPermissionCheck records an authorization decision.
func RecordPermissionCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	permissionChecksTotal.WithLabelValues(result).Inc()
}

// SetShareLinksActive sets the number of stored share links.
func SetShareLinksActive(count int64) {
	shareLinksActive.Set(float64(count))
}

// RecordShareAccess records a share token resolution.
// result is one of "ok", "not_found", "expired".
func RecordShareAccess(result string) {
	shareAccessTotal.WithLabelValues(result).Inc()
}

// SetUploadSessionsActive sets the number of in-flight chunked sessions.
func SetUploadSessionsActive(count int64) {
	uploadSessionsActive.Set(float64(count))
}

// RecordUploadSessionOutcome records a session reaching a terminal state.
// outcome is one of "finalized", "aborted", "swept".
func RecordUploadSessionOutcome(outcome string) {
	uploadSessionsTotal.WithLabelValues(outcome).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
