package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"

	"image-vault/internal/logging"
	"image-vault/internal/metrics"
)

// PreviewSuffix is appended to an original's base name to form its preview.
const PreviewSuffix = ".preview.png"

// PreviewCache converts originals that browsers cannot display (TIFF) into
// PNG files stored beside them. Conversion happens on first request and is
// repeated only when the original is newer than its preview.
type PreviewCache struct {
	group singleflight.Group
}

// NewPreviewCache returns an empty cache.
func NewPreviewCache() *PreviewCache {
	return &PreviewCache{}
}

// PreviewPath returns where the preview for src lives.
func PreviewPath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + PreviewSuffix
}

// Path returns a displayable file for src, converting it if needed.
// Concurrent callers for the same src share one conversion.
func (c *PreviewCache) Path(src string) (string, error) {
	dst := PreviewPath(src)
	if fresh(src, dst) {
		metrics.PreviewCacheHits.Inc()
		return dst, nil
	}

	_, err, shared := c.group.Do(dst, func() (any, error) {
		if fresh(src, dst) {
			return nil, nil
		}
		return nil, convertPreview(src, dst)
	})
	if err != nil {
		metrics.PreviewConversionsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	if !shared {
		metrics.PreviewConversionsTotal.WithLabelValues("success").Inc()
	}
	return dst, nil
}

func fresh(src, dst string) bool {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return false
	}
	return !dstInfo.ModTime().Before(srcInfo.ModTime())
}

func convertPreview(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("preview source: %w", err)
	}
	img, err := LoadImageConstrained(src, MaxImageDimension, MaxImagePixels)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}
	if err := writeAtomic(dst, func(w io.Writer) error {
		return imaging.Encode(w, img, imaging.PNG)
	}); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	logging.Debug("Preview written: %s", dst)
	return nil
}
