package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"image-vault/internal/metrics"
)

// metricsResponseWriter wraps http.ResponseWriter to capture status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsConfig holds configuration for the metrics middleware
type MetricsConfig struct {
	// SkipPaths are paths that should not be recorded
	SkipPaths []string
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SkipPaths: []string{"/metrics", "/health", "/healthz", "/livez", "/readyz"},
	}
}

// Metrics returns a middleware that records Prometheus metrics
func Metrics(config MetricsConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range config.SkipPaths {
				if strings.HasPrefix(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			wrapped := newMetricsResponseWriter(w)
			start := time.Now()

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			path := normalizePath(r.URL.Path)
			status := strconv.Itoa(wrapped.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// imageSubresources are the fixed segments that may follow /images/{id}.
var imageSubresources = map[string]bool{
	"meta": true,
	"exif": true,
	"crop": true,
}

// normalizePath maps a request path onto its route template so ids and file
// names never become label values.
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch parts[0] {
	case "images":
		switch {
		case len(parts) == 1:
			return "/images"
		case len(parts) == 2:
			return "/images/{id}"
		case len(parts) == 3 && imageSubresources[parts[2]]:
			return "/images/{id}/" + parts[2]
		}
	case "storage":
		switch {
		case len(parts) == 3:
			return "/storage/{folder}/{file}"
		case len(parts) == 4 && parts[2] == "thumbnails":
			return "/storage/{folder}/thumbnails/{file}"
		}
	case "health", "healthz", "livez", "readyz", "version", "metrics":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
	}
	return "/{other}"
}
