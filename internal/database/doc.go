// Package database is the SQLite asset catalog.
//
// Each stored image has one row in the assets table. Deletion is soft: a row
// with deleted_at set is invisible to every read and frees its content hash,
// so the same bytes can be uploaded again. A partial unique index keeps at
// most one live row per content hash; InsertAsset reports a violation as
// ErrDuplicateHash, which is how concurrent uploads of identical bytes are
// resolved.
//
// The database runs in WAL mode. Every call applies its own timeout and
// records Prometheus query metrics.
package database
