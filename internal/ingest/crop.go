package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/logging"
	"image-vault/internal/media"
	"image-vault/internal/mediatypes"
)

// Rect is a crop region in source pixels. Fractional values are rounded.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bounds rounds r to integer pixels. Negative values and empty regions are
// rejected.
func (r Rect) Bounds() (image.Rectangle, error) {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return image.Rectangle{}, fmt.Errorf("crop values must be finite and non-negative: %+v", r)
		}
	}
	x, y := int(math.Round(r.X)), int(math.Round(r.Y))
	w, h := int(math.Round(r.Width)), int(math.Round(r.Height))
	if w == 0 || h == 0 {
		return image.Rectangle{}, fmt.Errorf("crop region is empty after rounding: %+v", r)
	}
	return image.Rect(x, y, x+w, y+h), nil
}

// Crop cuts a region out of an existing asset and stores it as a new asset
// in the same folder. The parent asset is never modified.
func (s *Service) Crop(ctx context.Context, id string, rect Rect) (*database.Asset, error) {
	bounds, err := rect.Bounds()
	if err != nil {
		return nil, newError(CodeValidation, "invalid crop rectangle", err)
	}

	parent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	release, e := s.admit(ctx)
	if e != nil {
		return nil, e
	}
	defer release()

	r := newRun("crop", parent.ID)

	parentExt := filepath.Ext(parent.StoredFilename)
	ext := media.CropExt(parentExt)

	tmp, err := s.layout.StagingPath("crop", ext)
	if err != nil {
		return nil, r.fail(newError(CodeCropFailed, "reserve temp file", err))
	}
	r.compensate("remove temp crop", func() error { return filesystem.RemoveIfExists(tmp) })
	r.advance(StateStaged)

	var md *database.Metadata
	if err := r.stage("validate", func() error {
		if err := media.CropToFile(parent.AbsolutePath, tmp, bounds); err != nil {
			return err
		}
		var err error
		md, err = media.Inspect(tmp)
		return err
	}); err != nil {
		code := CodeCropFailed
		if errors.Is(err, media.ErrEmptyCrop) {
			code = CodeValidation
		}
		return nil, r.fail(newError(code, "could not crop image", err))
	}
	r.advance(StateValidated)

	var hash string
	if err := r.stage("hash", func() (err error) {
		hash, err = media.HashFile(tmp)
		return err
	}); err != nil {
		return nil, r.fail(newError(CodeCropFailed, "hash crop", err))
	}
	r.advance(StateHashed)

	var existing *database.Asset
	if err := r.stage("dedup", func() (err error) {
		existing, err = s.duplicateOf(ctx, hash)
		return err
	}); err != nil {
		return nil, r.fail(newError(CodeCropFailed, "duplicate lookup", err))
	}
	if existing != nil {
		return nil, r.fail(duplicateError(existing.ID))
	}

	originalName := "cropped_" + parent.OriginalName
	mimeType := parent.MimeType
	if !strings.EqualFold(ext, parentExt) {
		originalName = strings.TrimSuffix(originalName, filepath.Ext(originalName)) + ext
		mimeType = mediatypes.GetMimeType(ext)
	}
	stored := filesystem.UniqueFilename(originalName, hash, s.now())
	finalPath := s.layout.AssetPath(parent.Folder, stored)
	thumbPath := s.layout.ThumbnailPath(parent.Folder, stored, s.thumbs.Ext())
	if e := s.claimPaths(ctx, r, hash, CodeCropFailed, finalPath, thumbPath); e != nil {
		return nil, r.fail(e)
	}
	r.advance(StateNamesAssigned)

	size, err := fileSize(tmp)
	if err != nil {
		return nil, r.fail(newError(CodeCropFailed, "stat crop", err))
	}

	if err := r.stage("relocate", func() error {
		return filesystem.MoveFile(tmp, finalPath)
	}); err != nil {
		return nil, r.fail(newError(CodeCropFailed, "could not move crop into storage", err))
	}
	r.advance(StateRelocated)

	if err := r.stage("thumbnail", func() error {
		return s.thumbs.Generate(finalPath, thumbPath)
	}); err != nil {
		return nil, r.fail(newError(CodeCropFailed, "could not generate thumbnail", err))
	}
	r.advance(StateThumbnailGenerated)

	asset := &database.Asset{
		StoredFilename: stored,
		AbsolutePath:   finalPath,
		ThumbnailPath:  thumbPath,
		Folder:         parent.Folder,
		SizeBytes:      size,
		MimeType:       mimeType,
		ContentHash:    hash,
		OriginalName:   originalName,
		Metadata:       md,
	}
	if err := r.stage("persist", func() error {
		return s.catalog.InsertAsset(ctx, asset)
	}); err != nil {
		e := s.persistError(ctx, hash, err)
		if e.Code == CodePersistFailed {
			e.Code = CodeCropFailed
		}
		return nil, r.fail(e)
	}
	r.advance(StatePersisted)
	r.commit()

	logging.Info("Cropped %s %v into %s/%s", parent.ID, bounds, parent.Folder, stored)
	return asset, nil
}
