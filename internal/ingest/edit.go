package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/logging"
	"image-vault/internal/media"
)

// Patch is a partial update of an asset. Nil fields are left unchanged.
type Patch struct {
	Metadata *database.Metadata
	Folder   *string
}

// Update applies a metadata merge and/or a folder change. A folder change
// moves the original and its thumbnail before the catalog is updated and
// moves them back if the update fails.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*database.Asset, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Folder != nil {
		folder, err := filesystem.NormalizeFolder(*p.Folder)
		if err != nil {
			return nil, newError(CodeValidation, "invalid folder", err)
		}
		if folder != a.Folder {
			if a, err = s.move(ctx, a, folder); err != nil {
				return nil, err
			}
		}
	}

	if p.Metadata != nil {
		patch := *p.Metadata
		// Dimensions and format describe the file and are not client editable.
		patch.Width, patch.Height, patch.Format = nil, nil, nil
		a, err = s.catalog.UpdateMetadata(ctx, id, &patch)
		if err != nil {
			return nil, catalogError(err, id)
		}
	}

	return a, nil
}

func (s *Service) move(ctx context.Context, a *database.Asset, folder string) (*database.Asset, error) {
	r := newRun("move", a.ID)

	newPath := s.layout.AssetPath(folder, a.StoredFilename)
	if err := filesystem.ClaimPath(newPath); err != nil {
		if errors.Is(err, filesystem.ErrPathTaken) {
			return nil, r.fail(newError(CodeRelocationFailed, "target folder already holds this file", database.ErrDuplicateName))
		}
		return nil, r.fail(newError(CodeRelocationFailed, "reserve target path", err))
	}
	r.compensate("release target", func() error { return filesystem.RemoveIfExists(newPath) })

	if err := filesystem.MoveFile(a.AbsolutePath, newPath); err != nil {
		return nil, r.fail(newError(CodeRelocationFailed, "could not move file", err))
	}
	oldPath := a.AbsolutePath
	r.compensate("move original back", func() error { return filesystem.MoveFile(newPath, oldPath) })
	r.advance(StateRelocated)

	var newThumb string
	if a.ThumbnailPath != "" {
		newThumb = s.layout.ThumbnailPath(folder, a.StoredFilename, filepath.Ext(a.ThumbnailPath))
		if err := filesystem.ClaimPath(newThumb); err != nil {
			return nil, r.fail(newError(CodeRelocationFailed, "reserve thumbnail path", err))
		}
		r.compensate("release thumbnail target", func() error { return filesystem.RemoveIfExists(newThumb) })
		if err := filesystem.MoveFile(a.ThumbnailPath, newThumb); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, r.fail(newError(CodeRelocationFailed, "could not move thumbnail", err))
			}
			logging.Warn("Thumbnail for %s missing, regenerating in %s", a.ID, folder)
			if genErr := s.thumbs.Generate(newPath, newThumb); genErr != nil {
				return nil, r.fail(newError(CodeThumbnailFailed, "could not regenerate thumbnail", genErr))
			}
		} else {
			oldThumb := a.ThumbnailPath
			r.compensate("move thumbnail back", func() error { return filesystem.MoveFile(newThumb, oldThumb) })
		}
	}

	moved, err := s.catalog.MoveAsset(ctx, a.ID, database.Location{
		Folder:        folder,
		AbsolutePath:  newPath,
		ThumbnailPath: newThumb,
	})
	if err != nil {
		e := newError(CodePersistFailed, "could not record move", err)
		if errors.Is(err, database.ErrDuplicateName) {
			e.Code = CodeRelocationFailed
		}
		return nil, r.fail(e)
	}
	r.advance(StatePersisted)
	r.commit()

	logging.Info("Moved %s from %s to %s", a.ID, a.Folder, folder)
	return moved, nil
}

// UpdateExif rewrites allow-listed EXIF tags in the asset's file and records
// the new hash, size and metadata. A nil value clears the tag. The original
// bytes are restored if any later step fails.
func (s *Service) UpdateExif(ctx context.Context, id string, changes map[media.ExifField]*string) (*database.Asset, error) {
	if len(changes) == 0 {
		return nil, newError(CodeValidation, "no exif fields given", nil)
	}
	if err := media.ValidateTags(changes); err != nil {
		return nil, newError(CodeValidation, err.Error(), err)
	}

	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !media.SupportsExifWrite(filepath.Ext(a.StoredFilename)) {
		return nil, newError(CodeExifUnsupported, fmt.Sprintf("exif editing is not supported for %s", a.MimeType), media.ErrExifUnsupported)
	}

	release, e := s.admit(ctx)
	if e != nil {
		return nil, e
	}
	defer release()

	r := newRun("exif", a.ID)

	backup, err := s.layout.StagingPath("exif", filepath.Ext(a.StoredFilename))
	if err != nil {
		return nil, r.fail(newError(CodeExifWriteFailed, "reserve backup", err))
	}
	r.compensate("remove backup", func() error { return filesystem.RemoveIfExists(backup) })
	if err := filesystem.CopyFile(a.AbsolutePath, backup); err != nil {
		return nil, r.fail(newError(CodeExifWriteFailed, "back up original", err))
	}
	r.advance(StateStaged)

	r.compensate("restore original", func() error { return filesystem.CopyFile(backup, a.AbsolutePath) })
	if err := media.WriteTags(a.AbsolutePath, changes); err != nil {
		code := CodeExifWriteFailed
		if errors.Is(err, media.ErrExifUnsupported) {
			code = CodeExifUnsupported
		}
		return nil, r.fail(newError(code, "could not write exif", err))
	}

	md, err := media.Inspect(a.AbsolutePath)
	if err != nil {
		return nil, r.fail(newError(CodeExifWriteFailed, "rewritten file does not decode", err))
	}
	if a.Metadata != nil {
		md.Labels = a.Metadata.Labels
	}
	r.advance(StateValidated)

	hash, err := media.HashFile(a.AbsolutePath)
	if err != nil {
		return nil, r.fail(newError(CodeExifWriteFailed, "hash rewritten file", err))
	}
	existing, err := s.duplicateOf(ctx, hash)
	if err != nil {
		return nil, r.fail(newError(CodeInternal, "duplicate lookup", err))
	}
	if existing != nil && existing.ID != a.ID {
		return nil, r.fail(duplicateError(existing.ID))
	}
	r.advance(StateHashed)

	size, err := fileSize(a.AbsolutePath)
	if err != nil {
		return nil, r.fail(newError(CodeExifWriteFailed, "stat rewritten file", err))
	}

	updated, err := s.catalog.UpdateContent(ctx, a.ID, database.ContentUpdate{
		ContentHash: hash,
		SizeBytes:   size,
		Metadata:    md,
	})
	if err != nil {
		return nil, r.fail(s.persistError(ctx, hash, err))
	}
	r.advance(StatePersisted)

	if err := filesystem.RemoveIfExists(backup); err != nil {
		logging.Warn("Failed to remove exif backup %s: %v", backup, err)
	}
	r.commit()

	logging.Info("Rewrote %d exif fields on %s", len(changes), a.ID)
	return updated, nil
}
