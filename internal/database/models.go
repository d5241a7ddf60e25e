package database

import (
	"time"

	"image-vault/internal/mediatypes"
)

// Metadata is the descriptive record stored with an asset. Every field is
// optional; a nil pointer means the value is unknown or absent.
type Metadata struct {
	Width  *int    `json:"width,omitempty"`
	Height *int    `json:"height,omitempty"`
	Format *string `json:"format,omitempty"`

	Make             *string  `json:"make,omitempty"`
	Model            *string  `json:"model,omitempty"`
	Software         *string  `json:"software,omitempty"`
	Artist           *string  `json:"artist,omitempty"`
	Copyright        *string  `json:"copyright,omitempty"`
	Description      *string  `json:"description,omitempty"`
	DateTimeOriginal *string  `json:"dateTimeOriginal,omitempty"`
	ISO              *int     `json:"iso,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`

	// Labels holds free-form key/value pairs set by clients.
	Labels map[string]string `json:"labels,omitempty"`
}

// Merge copies every non-nil field of other into m. Labels are merged key by
// key; an empty label value removes the key.
func (m *Metadata) Merge(other *Metadata) {
	if other == nil {
		return
	}
	mergePtr(&m.Width, other.Width)
	mergePtr(&m.Height, other.Height)
	mergePtr(&m.Format, other.Format)
	mergePtr(&m.Make, other.Make)
	mergePtr(&m.Model, other.Model)
	mergePtr(&m.Software, other.Software)
	mergePtr(&m.Artist, other.Artist)
	mergePtr(&m.Copyright, other.Copyright)
	mergePtr(&m.Description, other.Description)
	mergePtr(&m.DateTimeOriginal, other.DateTimeOriginal)
	mergePtr(&m.ISO, other.ISO)
	mergePtr(&m.Latitude, other.Latitude)
	mergePtr(&m.Longitude, other.Longitude)

	for k, v := range other.Labels {
		if m.Labels == nil {
			m.Labels = make(map[string]string)
		}
		if v == "" {
			delete(m.Labels, k)
			continue
		}
		m.Labels[k] = v
	}
	if len(m.Labels) == 0 {
		m.Labels = nil
	}
}

func mergePtr[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Asset is one stored image and its catalog record.
type Asset struct {
	ID             string     `json:"id"`
	StoredFilename string     `json:"storedFilename"`
	AbsolutePath   string     `json:"absolutePath"`
	ThumbnailPath  string     `json:"thumbnailPath,omitempty"`
	Folder         string     `json:"folder"`
	SizeBytes      int64      `json:"sizeBytes"`
	MimeType       string     `json:"mimeType"`
	ContentHash    string     `json:"contentHash"`
	OriginalName   string     `json:"originalName"`
	Metadata       *Metadata  `json:"metadata,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// ListOptions filters and pages a catalog listing.
type ListOptions struct {
	Page     int
	Limit    int
	MimeType string
	Folder   string
	Sort     mediatypes.SortField
	Order    mediatypes.SortOrder
}

// ListResult is one page of assets plus the total matching count.
type ListResult struct {
	Items []Asset `json:"items"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}

// ContentUpdate carries the fields that change when an asset's bytes are
// rewritten in place.
type ContentUpdate struct {
	ContentHash string
	SizeBytes   int64
	Metadata    *Metadata
}

// Location is where an asset's files live after a folder change.
type Location struct {
	Folder        string
	AbsolutePath  string
	ThumbnailPath string
}

const (
	// DefaultPageLimit is used when a listing does not set Limit.
	DefaultPageLimit = 20
	// MaxPageLimit caps Limit.
	MaxPageLimit = 100
)
