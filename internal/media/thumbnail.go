package media

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"image-vault/internal/logging"
	"image-vault/internal/metrics"
)

// DefaultThumbnailSize is the edge length of the square cover thumbnail.
const DefaultThumbnailSize = 300

// DefaultQuality is the lossy quality used for thumbnails.
const DefaultQuality = 80

// ErrThumbnail wraps every thumbnail generation failure.
var ErrThumbnail = errors.New("thumbnail generation failed")

// Encoder writes an image in one fixed format.
type Encoder interface {
	// Name labels metrics, e.g. "webp".
	Name() string
	// Ext is the file extension including the dot, e.g. ".webp".
	Ext() string
	Encode(w io.Writer, img image.Image) error
}

// JPEGEncoder encodes with the standard library codec through imaging.
type JPEGEncoder struct {
	Quality int
}

// Name implements Encoder.
func (JPEGEncoder) Name() string { return "jpeg" }

// Ext implements Encoder.
func (JPEGEncoder) Ext() string { return ".jpg" }

// Encode implements Encoder.
func (e JPEGEncoder) Encode(w io.Writer, img image.Image) error {
	q := e.Quality
	if q <= 0 {
		q = DefaultQuality
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(q))
}

// ThumbnailGenerator produces square cover thumbnails.
type ThumbnailGenerator struct {
	size    int
	encoder Encoder
}

// NewThumbnailGenerator returns a generator for size x size thumbnails. A nil
// encoder falls back to JPEG.
func NewThumbnailGenerator(size int, encoder Encoder) *ThumbnailGenerator {
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	if encoder == nil {
		encoder = JPEGEncoder{Quality: DefaultQuality}
	}
	logging.Debug("ThumbnailGenerator: %dx%d, encoder %s", size, size, encoder.Name())
	return &ThumbnailGenerator{size: size, encoder: encoder}
}

// Ext returns the extension thumbnails are written with.
func (t *ThumbnailGenerator) Ext() string {
	return t.encoder.Ext()
}

// Generate resizes src to fill a size x size square, centre anchored, and
// writes it to dst. Regenerating onto an existing dst replaces it. No partial
// file is left at dst on failure.
func (t *ThumbnailGenerator) Generate(src, dst string) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ThumbnailGenerationsTotal.WithLabelValues(t.encoder.Name(), status).Inc()
		metrics.ThumbnailGenerationDuration.WithLabelValues(t.encoder.Name()).Observe(time.Since(start).Seconds())
	}()

	img, err := LoadImageConstrained(src, MaxImageDimension, MaxImagePixels)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrThumbnail, filepath.Base(src), err)
	}

	thumb := imaging.Fill(img, t.size, t.size, imaging.Center, imaging.Lanczos)

	if err := writeAtomic(dst, func(w io.Writer) error {
		return t.encoder.Encode(w, thumb)
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrThumbnail, err)
	}

	logging.Debug("Thumbnail written: %s", dst)
	return nil
}

// writeAtomic writes through a temp file in dst's directory and renames it
// into place.
func writeAtomic(dst string, write func(io.Writer) error) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		logging.Debug("chmod %s: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
