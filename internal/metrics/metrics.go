package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_vault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_vault_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	HTTPPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_vault_http_panics_total",
			Help: "Total number of handler panics recovered",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_vault_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_vault_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Catalog metrics
var (
	CatalogAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_vault_catalog_assets",
			Help: "Number of live (not deleted) assets in the catalog",
		},
	)

	CatalogBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_vault_catalog_bytes",
			Help: "Total size in bytes of live assets",
		},
	)
)

// Ingest metrics
var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_ingest_total",
			Help: "Total number of ingest and crop pipeline runs by outcome code",
		},
		[]string{"pipeline", "outcome"},
	)

	IngestStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_vault_ingest_stage_duration_seconds",
			Help:    "Duration of each ingest pipeline stage in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	IngestRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_ingest_rollbacks_total",
			Help: "Total number of rollbacks by the last state the pipeline reached",
		},
		[]string{"state"},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"encoder", "status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_vault_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"encoder"},
	)

	PreviewConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_preview_conversions_total",
			Help: "Total number of on-demand preview conversions",
		},
		[]string{"status"},
	)

	PreviewCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_vault_preview_cache_hits_total",
			Help: "Total number of preview cache hits",
		},
	)
)

// Filesystem metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries after stale handle errors",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after a retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_filesystem_stale_errors_total",
			Help: "Total number of stale file handle errors",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_vault_filesystem_retry_duration_seconds",
			Help:    "Total duration of retried filesystem operations",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "volume"},
	)

	FilesystemRelocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_filesystem_relocations_total",
			Help: "Total number of file relocations by method (rename or copy)",
		},
		[]string{"method"},
	)
)

// Batch transfer metrics (imagectl exposes them when run with -metrics)
var (
	TransferItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_transfer_items_total",
			Help: "Total number of batch transfer items by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	TransferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_vault_transfer_bytes_total",
			Help: "Total bytes moved by successful batch transfer items",
		},
		[]string{"direction"},
	)

	WorkerPoolActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_vault_worker_pool_active_tasks",
			Help: "Number of tasks currently running in bounded worker pools",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_vault_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_vault_memory_paused",
			Help: "Whether image decoding is paused by memory pressure (1) or not (0)",
		},
	)

	MemoryWaitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_vault_memory_waits_total",
			Help: "Total number of pipeline runs that waited for memory pressure to clear",
		},
	)
)

// Application info
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "image_vault_app_info",
			Help: "Application build information",
		},
		[]string{"version", "commit", "go_version"},
	)
)
