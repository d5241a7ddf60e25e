// Package metrics provides Prometheus instrumentation for the image vault.
//
// All metrics are prefixed with "image_vault_" and registered through promauto,
// so importing the package is enough to expose them on the metrics endpoint.
//
// # Metric Categories
//
//   - HTTP: request counts, latency and in-flight requests, recovered panics
//   - Database: query counts and latency per catalog operation
//   - Catalog: live asset count and bytes, refreshed by Collector
//   - Ingest: pipeline outcomes by error code, per-stage latency, rollbacks
//     keyed by the last state reached
//   - Thumbnails and previews: generation counts and latency per encoder
//   - Filesystem: stale-handle retries and relocation method (rename vs copy)
//   - Transfer: batch upload/export items and bytes from imagectl
//
// InitializeMetrics pre-populates label combinations so dashboards see zero
// values instead of missing series right after startup.
package metrics
