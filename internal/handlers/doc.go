// Package handlers provides the HTTP surface of the image vault.
//
// It includes handlers for:
//   - Uploading, listing, cropping, editing and deleting images
//   - Reading and rewriting EXIF tags
//   - Serving stored originals, TIFF previews and thumbnails
//   - Health checks, version info and Prometheus metrics
//
// Every JSON response uses one envelope: {"success":true,"data":...} or
// {"success":false,"error":{"message":...,"code":...}}. Error codes come from
// the ingest package and map to HTTP statuses in writeError.
package handlers
