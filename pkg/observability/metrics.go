package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the catalog service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth metrics
	AuthFailuresTotal *prometheus.CounterVec
	LoginsTotal       *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	CascadeDeletesTotal    *prometheus.CounterVec
	CategoryCacheHits      prometheus.Counter
	CategoryCacheMisses    prometheus.Counter

	// Upload metrics
	UploadsTotal      *prometheus.CounterVec
	UploadBytes       prometheus.Counter
	OrphanFilesSwept  prometheus.Counter
	SessionsPurged    prometheus.Counter
	SessionsActiveEst prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalogd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_auth_failures_total",
				Help: "Authentication and authorization failures by reason",
			},
			[]string{"reason"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_logins_total",
				Help: "Successful logins by credential source",
			},
			[]string{"source"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_store_operations_total",
				Help: "Total number of catalog store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalogd_store_operation_duration_seconds",
				Help:    "Catalog store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CascadeDeletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_cascade_deletes_total",
				Help: "Entities removed by cascading deletes",
			},
			[]string{"entity"},
		),
		CategoryCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogd_category_cache_hits_total",
			Help: "Category cache hits",
		}),
		CategoryCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogd_category_cache_misses_total",
			Help: "Category cache misses",
		}),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_uploads_total",
				Help: "Image uploads by status",
			},
			[]string{"status"},
		),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogd_upload_bytes_total",
			Help: "Bytes written to the upload store",
		}),
		OrphanFilesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogd_orphan_files_swept_total",
			Help: "Orphaned upload files removed by the janitor",
		}),
		SessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogd_sessions_purged_total",
			Help: "Expired sessions removed by the janitor",
		}),
		SessionsActiveEst: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalogd_sessions_active",
			Help: "Approximate count of live sessions",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthFailuresTotal,
		m.LoginsTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CascadeDeletesTotal,
		m.CategoryCacheHits,
		m.CategoryCacheMisses,
		m.UploadsTotal,
		m.UploadBytes,
		m.OrphanFilesSwept,
		m.SessionsPurged,
		m.SessionsActiveEst,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStoreOperation records one store call outcome with its duration
func (m *Metrics) ObserveStoreOperation(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// HTTPMetricsMiddleware instruments handlers with request counters and latency
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := routePattern(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern prefers the mux route template over the raw path so that
// per-entity URLs don't explode label cardinality.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
