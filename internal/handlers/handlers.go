package handlers

import (
	"time"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/ingest"
	"image-vault/internal/media"
	"image-vault/internal/startup"
)

// DefaultMaxUploadBytes bounds a single multipart upload when the config
// does not set one.
const DefaultMaxUploadBytes = 50 << 20

type Handlers struct {
	svc       *ingest.Service
	db        *database.Database
	layout    *filesystem.Layout
	previews  *media.PreviewCache
	maxUpload int64
	startTime time.Time
}

func New(svc *ingest.Service, db *database.Database, layout *filesystem.Layout, config *startup.Config) *Handlers {
	maxUpload := config.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Handlers{
		svc:       svc,
		db:        db,
		layout:    layout,
		previews:  media.NewPreviewCache(),
		maxUpload: maxUpload,
		startTime: time.Now(),
	}
}
