// Package main provides the entry point for the ImageVault server.
//
// ImageVault stores uploaded images under a folder layout on disk, keeps a
// SQLite catalog of them keyed by content hash, and serves an HTTP API for
// upload, listing, cropping, EXIF editing and soft deletion.
//
// # Application Lifecycle
//
//  1. Memory Configuration: sets GOMEMLIMIT from MEMORY_LIMIT when present
//  2. Configuration Loading: reads environment variables and validates directories
//  3. Storage: prepares the storage and staging directories
//  4. Database Initialization: opens the SQLite catalog and applies the schema
//  5. Imaging: starts libvips for WebP thumbnails, falling back to JPEG
//  6. HTTP Server Setup: registers routes, wraps them in middleware, starts serving
//  7. Graceful Shutdown: handles SIGINT/SIGTERM and stops every component
//
// # Background Services
//
//   - Metrics Collector: refreshes catalog gauges every minute
//   - Memory Monitor: pauses new image decodes while the heap is near its limit
//
// # Environment
//
//	STORAGE_DIR       stored originals and thumbnails (default /storage)
//	STAGING_DIR       in-flight uploads (default $STORAGE_DIR/.staging)
//	DATABASE_DIR      catalog database (default /database)
//	PORT              API port (default 8080)
//	METRICS_PORT      Prometheus port (default 9090)
//	METRICS_ENABLED   serve /metrics (default true)
//	MAX_UPLOAD_MB     upload size limit (default 50)
//	THUMBNAIL_SIZE    thumbnail edge in pixels (default 300)
//	LOG_LEVEL         debug, info, warn or error
package main
