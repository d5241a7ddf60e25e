package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/logging"
	"image-vault/internal/media"
	"image-vault/internal/mediatypes"
)

// Catalog is the subset of the database the service needs.
type Catalog interface {
	InsertAsset(ctx context.Context, a *database.Asset) error
	GetAsset(ctx context.Context, id string) (*database.Asset, error)
	FindByHash(ctx context.Context, hash string) (*database.Asset, error)
	ListAssets(ctx context.Context, opts database.ListOptions) (*database.ListResult, error)
	UpdateMetadata(ctx context.Context, id string, patch *database.Metadata) (*database.Asset, error)
	UpdateContent(ctx context.Context, id string, u database.ContentUpdate) (*database.Asset, error)
	MoveAsset(ctx context.Context, id string, loc database.Location) (*database.Asset, error)
	SoftDelete(ctx context.Context, id string) error
	SoftDeleteMany(ctx context.Context, ids []string) (int64, error)
}

// Thumbnailer renders cover thumbnails.
type Thumbnailer interface {
	Generate(src, dst string) error
	Ext() string
}

// Gate holds back work that decodes full images. *memory.Monitor
// satisfies it.
type Gate interface {
	Wait(ctx context.Context) error
}

// Service runs the ingest, crop and edit pipelines against the catalog and
// the storage layout.
type Service struct {
	catalog Catalog
	layout  *filesystem.Layout
	thumbs  Thumbnailer
	gate    Gate
	decodes *semaphore.Weighted
	now     func() time.Time
}

// NewService wires a Service.
func NewService(catalog Catalog, layout *filesystem.Layout, thumbs Thumbnailer) *Service {
	return &Service{
		catalog: catalog,
		layout:  layout,
		thumbs:  thumbs,
		now:     time.Now,
	}
}

// SetGate installs a gate consulted before every decode-heavy pipeline.
func (s *Service) SetGate(g Gate) {
	s.gate = g
}

// SetDecodeLimit bounds how many runs decode full images at once. n <= 0
// removes the bound.
func (s *Service) SetDecodeLimit(n int) {
	if n <= 0 {
		s.decodes = nil
		return
	}
	s.decodes = semaphore.NewWeighted(int64(n))
}

// admit waits on the gate, then for a decode slot. The returned release
// frees the slot and must be called once the run is done.
func (s *Service) admit(ctx context.Context) (func(), *Error) {
	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return nil, newError(CodeUnavailable, "server is under memory pressure", err)
		}
	}
	if s.decodes == nil {
		return func() {}, nil
	}
	if err := s.decodes.Acquire(ctx, 1); err != nil {
		return nil, newError(CodeUnavailable, "no decode slot became free", err)
	}
	return func() { s.decodes.Release(1) }, nil
}

// Stage copies r into a new staging file named after originalName's
// extension and returns its path and size. The caller passes the path to
// Ingest, which takes ownership of the file.
func (s *Service) Stage(r io.Reader, originalName string) (string, int64, error) {
	f, err := s.layout.CreateStagingFile("upload", filepath.Ext(originalName))
	if err != nil {
		return "", 0, err
	}
	name := f.Name()

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := filesystem.RemoveIfExists(name); rmErr != nil {
			logging.Warn("Failed to remove partial staging file %s: %v", name, rmErr)
		}
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}
	return name, n, nil
}

// Get returns a live asset.
func (s *Service) Get(ctx context.Context, id string) (*database.Asset, error) {
	a, err := s.catalog.GetAsset(ctx, id)
	if err != nil {
		return nil, catalogError(err, id)
	}
	return a, nil
}

// List returns one page of the catalog.
func (s *Service) List(ctx context.Context, opts database.ListOptions) (*database.ListResult, error) {
	if opts.Folder != "" {
		folder, err := filesystem.NormalizeFolder(opts.Folder)
		if err != nil {
			return nil, newError(CodeValidation, "invalid folder", err)
		}
		opts.Folder = folder
	}
	res, err := s.catalog.ListAssets(ctx, opts)
	if err != nil {
		return nil, newError(CodeInternal, "list assets", err)
	}
	return res, nil
}

// Delete soft-deletes one asset. Its files stay on disk.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.catalog.SoftDelete(ctx, id); err != nil {
		return catalogError(err, id)
	}
	logging.Info("Asset %s deleted", id)
	return nil
}

// DeleteMany soft-deletes every listed asset and returns how many were live.
func (s *Service) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	n, err := s.catalog.SoftDeleteMany(ctx, ids)
	if err != nil {
		return 0, newError(CodeInternal, "bulk delete", err)
	}
	logging.Info("Bulk delete: %d of %d assets deleted", n, len(ids))
	return n, nil
}

// ReadExif returns the allow-listed tags in an asset's file. A file without
// EXIF yields an empty set.
func (s *Service) ReadExif(ctx context.Context, id string) (media.Tags, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, err := media.ReadTags(a.AbsolutePath)
	switch {
	case err == nil:
		return tags, nil
	case errors.Is(err, media.ErrNoExif):
		return media.Tags{}, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, newError(CodeNotFound, "asset file missing", err)
	default:
		return nil, newError(CodeInternal, "read exif", err)
	}
}

func catalogError(err error, id string) error {
	if errors.Is(err, database.ErrNotFound) {
		return newError(CodeNotFound, fmt.Sprintf("image %s not found", id), err)
	}
	return newError(CodeInternal, "catalog lookup", err)
}

// storedName derives the stored filename. When originalName carries no
// usable extension the canonical one for mimeType is used.
func storedName(originalName, mimeType, hash string, now time.Time) string {
	ext := mediatypes.NormalizeExt(filepath.Ext(originalName))
	if _, ok := mediatypes.MimeTypes[ext]; !ok {
		if canonical, ok := mediatypes.ExtensionFor(mimeType); ok {
			originalName = "upload" + canonical
		}
	}
	return filesystem.UniqueFilename(originalName, hash, now)
}

// duplicateOf looks up the live asset holding hash. It returns nil when there
// is none.
func (s *Service) duplicateOf(ctx context.Context, hash string) (*database.Asset, error) {
	existing, err := s.catalog.FindByHash(ctx, hash)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return existing, err
}

// claimPaths reserves every path for r and registers its removal. Paths that
// already exist are left alone. Stored names embed the full content hash, so
// a taken path means identical bytes are stored, or being stored, in the same
// folder.
func (s *Service) claimPaths(ctx context.Context, r *run, hash string, failCode Code, paths ...string) *Error {
	for _, p := range paths {
		if err := filesystem.ClaimPath(p); err != nil {
			if errors.Is(err, filesystem.ErrPathTaken) {
				return s.duplicateFound(ctx, hash)
			}
			return newError(failCode, "reserve storage path", err)
		}
		r.compensate("release "+filepath.Base(p), func() error { return filesystem.RemoveIfExists(p) })
	}
	return nil
}

// duplicateFound reports hash as already stored, naming the live asset when
// it is visible yet.
func (s *Service) duplicateFound(ctx context.Context, hash string) *Error {
	var existingID string
	if existing, err := s.duplicateOf(ctx, hash); err == nil && existing != nil {
		existingID = existing.ID
	}
	return duplicateError(existingID)
}

func duplicateError(existingID string) *Error {
	e := newError(CodeDuplicateImage, "an identical image is already stored", database.ErrDuplicateHash)
	e.ExistingID = existingID
	return e
}

func fileSize(path string) (int64, error) {
	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
