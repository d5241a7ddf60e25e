package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"image-vault/internal/logging"
	"image-vault/internal/mediatypes"
)

const assetColumns = `id, stored_filename, absolute_path, thumbnail_path, folder, size_bytes,
	mime_type, content_hash, original_name, metadata, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	var (
		a         Asset
		thumb     sql.NullString
		meta      sql.NullString
		created   int64
		updated   int64
		deletedAt sql.NullInt64
	)

	err := row.Scan(
		&a.ID, &a.StoredFilename, &a.AbsolutePath, &thumb, &a.Folder, &a.SizeBytes,
		&a.MimeType, &a.ContentHash, &a.OriginalName, &meta, &created, &updated, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ThumbnailPath = thumb.String
	a.CreatedAt = time.UnixMilli(created).UTC()
	a.UpdatedAt = time.UnixMilli(updated).UTC()
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64).UTC()
		a.DeletedAt = &t
	}
	if meta.Valid && meta.String != "" {
		var m Metadata
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			logging.Warn("Asset %s has unreadable metadata: %v", a.ID, err)
		} else {
			a.Metadata = &m
		}
	}
	return &a, nil
}

func encodeMetadata(m *Metadata) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// InsertAsset stores a new asset. ID and timestamps are assigned when empty.
// A live asset with the same content hash yields ErrDuplicateHash.
func (d *Database) InsertAsset(ctx context.Context, a *Asset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_asset", start, err) }()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	var meta sql.NullString
	meta, err = encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`,
		a.ID, a.StoredFilename, a.AbsolutePath, nullIfEmpty(a.ThumbnailPath), a.Folder, a.SizeBytes,
		a.MimeType, a.ContentHash, a.OriginalName, meta, a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		err = classifyConstraint(err)
		return err
	}
	return nil
}

// GetAsset returns a live asset by id.
func (d *Database) GetAsset(ctx context.Context, id string) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_asset", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var a *Asset
	a, err = scanAsset(d.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// FindByHash returns the live asset with the given content hash.
func (d *Database) FindByHash(ctx context.Context, hash string) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_by_hash", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var a *Asset
	a, err = scanAsset(d.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE content_hash = ? AND deleted_at IS NULL`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// IsLiveFile reports whether path is the original or the thumbnail of a
// live asset.
func (d *Database) IsLiveFile(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("is_live_file", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var live bool
	err = d.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM assets WHERE absolute_path = ? AND deleted_at IS NULL)
		    OR EXISTS (SELECT 1 FROM assets WHERE thumbnail_path = ? AND deleted_at IS NULL)`,
		path, path).Scan(&live)
	return live, err
}

// ListAssets returns one page of live assets.
func (d *Database) ListAssets(ctx context.Context, opts ListOptions) (*ListResult, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_assets", start, err) }()

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = DefaultPageLimit
	}
	if opts.Limit > MaxPageLimit {
		opts.Limit = MaxPageLimit
	}

	where := []string{"deleted_at IS NULL"}
	var args []any
	if opts.Folder != "" {
		where = append(where, "folder = ?")
		args = append(args, opts.Folder)
	}
	if opts.MimeType != "" {
		where = append(where, "mime_type = ?")
		args = append(args, opts.MimeType)
	}
	whereClause := strings.Join(where, " AND ")

	sortColumn := "created_at"
	switch opts.Sort {
	case mediatypes.SortByName:
		sortColumn = "original_name COLLATE NOCASE"
	case mediatypes.SortBySize:
		sortColumn = "size_bytes"
	}
	sortDir := "DESC"
	if opts.Order == mediatypes.SortAsc {
		sortDir = "ASC"
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result := &ListResult{Items: []Asset{}, Page: opts.Page, Limit: opts.Limit}

	err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE `+whereClause, args...).Scan(&result.Total)
	if err != nil {
		return nil, fmt.Errorf("count query failed: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM assets WHERE %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?`,
		assetColumns, whereClause, sortColumn, sortDir)
	pageArgs := append(append([]any{}, args...), opts.Limit, (opts.Page-1)*opts.Limit)

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("select query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a *Asset
		a, err = scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		result.Items = append(result.Items, *a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}

// UpdateMetadata merges patch into the asset's metadata and returns the result.
func (d *Database) UpdateMetadata(ctx context.Context, id string, patch *Metadata) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_asset", start, err) }()

	var a *Asset
	a, err = d.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := &Metadata{}
	merged.Merge(a.Metadata)
	merged.Merge(patch)

	var meta sql.NullString
	meta, err = encodeMetadata(merged)
	if err != nil {
		return nil, err
	}

	err = d.exec(ctx, `UPDATE assets SET metadata = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		meta, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, err
	}
	return d.GetAsset(ctx, id)
}

// UpdateContent records new bytes for an asset rewritten in place.
func (d *Database) UpdateContent(ctx context.Context, id string, u ContentUpdate) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_content", start, err) }()

	var meta sql.NullString
	meta, err = encodeMetadata(u.Metadata)
	if err != nil {
		return nil, err
	}

	err = d.exec(ctx, `
		UPDATE assets SET content_hash = ?, size_bytes = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, u.ContentHash, u.SizeBytes, meta, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, err
	}
	return d.GetAsset(ctx, id)
}

// MoveAsset records a folder change.
func (d *Database) MoveAsset(ctx context.Context, id string, loc Location) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("move_asset", start, err) }()

	err = d.exec(ctx, `
		UPDATE assets SET folder = ?, absolute_path = ?, thumbnail_path = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, loc.Folder, loc.AbsolutePath, nullIfEmpty(loc.ThumbnailPath), time.Now().UnixMilli(), id)
	if err != nil {
		return nil, err
	}
	return d.GetAsset(ctx, id)
}

// SoftDelete marks an asset deleted. Files are left in place.
func (d *Database) SoftDelete(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("soft_delete", start, err) }()

	err = d.exec(ctx, `UPDATE assets SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UnixMilli(), time.Now().UnixMilli(), id)
	return err
}

// SoftDeleteMany marks every listed live asset deleted and returns how many were.
func (d *Database) SoftDeleteMany(ctx context.Context, ids []string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("soft_delete_many", start, err) }()

	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	now := time.Now().UnixMilli()
	args := make([]any, 0, len(ids)+2)
	args = append(args, now, now)
	for _, id := range ids {
		args = append(args, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = d.db.ExecContext(ctx,
		`UPDATE assets SET deleted_at = ?, updated_at = ? WHERE deleted_at IS NULL AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// exec runs a single-row write and maps zero affected rows to ErrNotFound.
func (d *Database) exec(ctx context.Context, query string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classifyConstraint(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
