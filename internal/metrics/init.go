package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, op := range []string{"insert_asset", "get_asset", "find_by_hash", "list_assets",
		"update_asset", "update_content", "move_asset", "soft_delete", "soft_delete_many", "stats"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, pipeline := range []string{"ingest", "crop", "exif"} {
		for _, outcome := range []string{"success", "INVALID_IMAGE", "DUPLICATE_IMAGE",
			"THUMBNAIL_GENERATION_FAILED", "RELOCATION_FAILED", "PERSIST_FAILED", "CROP_FAILED"} {
			IngestTotal.WithLabelValues(pipeline, outcome)
		}
	}

	for _, stage := range []string{"validate", "hash", "dedup", "thumbnail", "relocate", "persist"} {
		IngestStageDuration.WithLabelValues(stage)
	}

	for _, enc := range []string{"webp", "jpeg"} {
		ThumbnailGenerationsTotal.WithLabelValues(enc, "success")
		ThumbnailGenerationsTotal.WithLabelValues(enc, "error")
		ThumbnailGenerationDuration.WithLabelValues(enc)
	}

	for _, status := range []string{"success", "error"} {
		PreviewConversionsTotal.WithLabelValues(status)
	}

	volumes := []string{"storage", "staging", "database", "unknown"}
	for _, op := range []string{"stat", "open"} {
		for _, vol := range volumes {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, method := range []string{"rename", "copy"} {
		FilesystemRelocations.WithLabelValues(method)
	}

	for _, dir := range []string{"upload", "export"} {
		TransferItemsTotal.WithLabelValues(dir, "success")
		TransferItemsTotal.WithLabelValues(dir, "duplicate")
		TransferItemsTotal.WithLabelValues(dir, "error")
		TransferBytesTotal.WithLabelValues(dir)
	}
}
