package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"image-vault/internal/logging"
	"image-vault/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

var (
	// ErrNotFound is returned when no live asset matches.
	ErrNotFound = errors.New("asset not found")
	// ErrDuplicateHash is returned when a live asset already has the content hash.
	ErrDuplicateHash = errors.New("duplicate content hash")
	// ErrDuplicateName is returned when the stored filename is taken in the folder.
	ErrDuplicateName = errors.New("stored filename already exists in folder")
)

// Database is the asset catalog.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// New opens (and if needed creates) the catalog at dbPath.
// dbPath is the database FILE; its parent directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// busy_timeout helps prevent "database is locked" errors under concurrent uploads
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		stored_filename TEXT NOT NULL,
		absolute_path TEXT NOT NULL,
		thumbnail_path TEXT,
		folder TEXT NOT NULL DEFAULT 'default',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		original_name TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_folder_stored ON assets(folder, stored_filename);
	CREATE INDEX IF NOT EXISTS idx_assets_created ON assets(created_at);
	CREATE INDEX IF NOT EXISTS idx_assets_mime ON assets(mime_type);

	-- Key/value store for schema bookkeeping
	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return d.runMigrations(ctx)
}

// runMigrations applies database schema migrations
func (d *Database) runMigrations(ctx context.Context) error {
	// Migration 1: soft delete. Live uniqueness of content_hash depends on it.
	var deletedAtExists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('assets')
		WHERE name='deleted_at'
	`).Scan(&deletedAtExists)
	if err != nil {
		return fmt.Errorf("failed to check for deleted_at column: %w", err)
	}

	if !deletedAtExists {
		logging.Info("Migrating database: adding deleted_at column to assets table")

		if _, err := d.db.ExecContext(ctx, `ALTER TABLE assets ADD COLUMN deleted_at INTEGER`); err != nil {
			return fmt.Errorf("failed to add deleted_at column: %w", err)
		}

		logging.Info("Migration complete: deleted_at column added")
	}

	// Migration 2: enforce one live asset per content hash
	_, err = d.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_live_hash
		ON assets(content_hash) WHERE deleted_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_assets_live_folder
		ON assets(folder, created_at) WHERE deleted_at IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to create live-asset indexes: %w", err)
	}

	// Migration 3: static file requests look assets up by path
	_, err = d.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_assets_live_path
		ON assets(absolute_path) WHERE deleted_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_assets_live_thumbnail
		ON assets(thumbnail_path) WHERE deleted_at IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to create path indexes: %w", err)
	}

	return d.SetMetadata(ctx, "schema_version", "3")
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// CatalogStats reports live asset totals and pool usage for the metrics collector.
func (d *Database) CatalogStats(ctx context.Context) (metrics.Stats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats metrics.Stats
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM assets WHERE deleted_at IS NULL
	`).Scan(&stats.Assets, &stats.Bytes)
	if err != nil {
		return metrics.Stats{}, err
	}

	stats.OpenConnections = d.db.Stats().OpenConnections
	return stats, nil
}

// classifyConstraint maps SQLite unique-constraint failures on the assets
// table to the package's sentinel errors.
func classifyConstraint(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return err
	}
	msg := sqliteErr.Error()
	switch {
	case containsColumn(msg, "content_hash"):
		return fmt.Errorf("%w: %v", ErrDuplicateHash, err)
	case containsColumn(msg, "stored_filename"):
		return fmt.Errorf("%w: %v", ErrDuplicateName, err)
	}
	return err
}

func containsColumn(msg, column string) bool {
	return strings.Contains(msg, "assets."+column)
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	// Check directory permissions
	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	// Check if directory is writable by testing
	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile) // Explicitly ignore cleanup error
	logging.Debug("Database directory is writable")

	// Check main database file
	if dbInfo, err := os.Stat(dbPath); err == nil {
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", dbPath, dbInfo.Mode(), dbInfo.Size())
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
		}
	}

	// A read-only WAL or SHM file makes every write fail with "attempt to write a readonly database"
	for _, sidecar := range []string{dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(sidecar)
		if err != nil {
			continue
		}
		logging.Debug("Sidecar file exists: %s (mode: %v, size: %d bytes)", sidecar, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 != 0 {
			continue
		}
		logging.Warn("%s is read-only! Mode: %v", sidecar, info.Mode())
		if chmodErr := os.Chmod(sidecar, 0o600); chmodErr != nil {
			logging.Error("Failed to fix permissions on %s: %v", sidecar, chmodErr)
		} else {
			logging.Info("Fixed permissions on %s", sidecar)
		}
	}

	return nil
}
