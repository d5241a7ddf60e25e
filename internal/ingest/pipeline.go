package ingest

import (
	"context"
	"errors"
	"path/filepath"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/logging"
	"image-vault/internal/media"
)

// Upload describes a file already written to the staging area.
type Upload struct {
	// StagedPath is owned by Ingest once called: it is either relocated into
	// storage or removed.
	StagedPath   string
	OriginalName string
	MimeType     string
	Folder       string
}

// Ingest validates, deduplicates, thumbnails, relocates and records a staged
// upload. On any failure every artifact created so far is removed and an
// *Error is returned.
func (s *Service) Ingest(ctx context.Context, up Upload) (*database.Asset, error) {
	r := newRun("ingest", up.OriginalName)

	staged := up.StagedPath
	r.compensate("remove staged file", func() error { return filesystem.RemoveIfExists(staged) })
	r.advance(StateStaged)

	folder, err := filesystem.NormalizeFolder(up.Folder)
	if err != nil {
		return nil, r.fail(newError(CodeValidation, "invalid folder", err))
	}
	release, e := s.admit(ctx)
	if e != nil {
		return nil, r.fail(e)
	}
	defer release()

	var md *database.Metadata
	if err := r.stage("validate", func() (err error) {
		md, err = media.Inspect(staged)
		return err
	}); err != nil {
		if errors.Is(err, media.ErrImageTooLarge) {
			return nil, r.fail(newError(CodeValidation, "image dimensions are too large", err))
		}
		return nil, r.fail(newError(CodeInvalidImage, "file is not a readable image", err))
	}
	r.advance(StateValidated)

	var hash string
	if err := r.stage("hash", func() (err error) {
		hash, err = media.HashFile(staged)
		return err
	}); err != nil {
		return nil, r.fail(newError(CodeInternal, "hash upload", err))
	}
	r.advance(StateHashed)

	var existing *database.Asset
	if err := r.stage("dedup", func() (err error) {
		existing, err = s.duplicateOf(ctx, hash)
		return err
	}); err != nil {
		return nil, r.fail(newError(CodeInternal, "duplicate lookup", err))
	}
	if existing != nil {
		return nil, r.fail(duplicateError(existing.ID))
	}

	stored := storedName(up.OriginalName, up.MimeType, hash, s.now())
	finalPath := s.layout.AssetPath(folder, stored)
	thumbPath := s.layout.ThumbnailPath(folder, stored, s.thumbs.Ext())
	if e := s.claimPaths(ctx, r, hash, CodeRelocationFailed, finalPath, thumbPath); e != nil {
		return nil, r.fail(e)
	}
	r.advance(StateNamesAssigned)

	if err := r.stage("thumbnail", func() error {
		return s.thumbs.Generate(staged, thumbPath)
	}); err != nil {
		return nil, r.fail(newError(CodeThumbnailFailed, "could not generate thumbnail", err))
	}
	r.advance(StateThumbnailGenerated)

	size, err := fileSize(staged)
	if err != nil {
		return nil, r.fail(newError(CodeRelocationFailed, "stat staged file", err))
	}

	if err := r.stage("relocate", func() error {
		return filesystem.MoveFile(staged, finalPath)
	}); err != nil {
		return nil, r.fail(newError(CodeRelocationFailed, "could not move file into storage", err))
	}
	r.advance(StateRelocated)

	originalName := filepath.Base(up.OriginalName)
	if up.OriginalName == "" {
		originalName = stored
	}

	asset := &database.Asset{
		StoredFilename: stored,
		AbsolutePath:   finalPath,
		ThumbnailPath:  thumbPath,
		Folder:         folder,
		SizeBytes:      size,
		MimeType:       up.MimeType,
		ContentHash:    hash,
		OriginalName:   originalName,
		Metadata:       md,
	}
	if err := r.stage("persist", func() error {
		return s.catalog.InsertAsset(ctx, asset)
	}); err != nil {
		return nil, r.fail(s.persistError(ctx, hash, err))
	}
	r.advance(StatePersisted)
	r.commit()

	logging.Info("Ingested %s as %s/%s (%d bytes)", up.OriginalName, folder, stored, size)
	return asset, nil
}

// persistError turns an insert failure into an *Error. A unique-constraint
// hit on the content hash means a concurrent upload of the same bytes won.
func (s *Service) persistError(ctx context.Context, hash string, err error) *Error {
	if errors.Is(err, database.ErrDuplicateHash) {
		return s.duplicateFound(ctx, hash)
	}
	return newError(CodePersistFailed, "could not record image", err)
}
