package media

import (
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrEmptyCrop is returned when the crop rectangle misses the image entirely.
var ErrEmptyCrop = errors.New("crop rectangle does not intersect the image")

// CropExt returns the extension a crop of a file with ext is written as.
// Formats imaging cannot encode (webp) are cropped to PNG.
func CropExt(ext string) string {
	ext = strings.ToLower(ext)
	if _, err := imaging.FormatFromExtension(ext); err != nil {
		return ".png"
	}
	return ext
}

// CropToFile cuts rect out of src and writes it to dst in the format named by
// dst's extension. rect is in pixel coordinates relative to the image's top
// left corner and is clamped to the image bounds.
func CropToFile(src, dst string, rect image.Rectangle) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}

	bounds := img.Bounds()
	area := rect.Add(bounds.Min).Intersect(bounds)
	if area.Empty() {
		return fmt.Errorf("%w: %v outside %dx%d", ErrEmptyCrop, rect, bounds.Dx(), bounds.Dy())
	}

	format, err := imaging.FormatFromFilename(dst)
	if err != nil {
		return fmt.Errorf("crop output %s: %w", filepath.Base(dst), err)
	}

	cropped := imaging.Crop(img, area)
	return writeAtomic(dst, func(w io.Writer) error {
		return imaging.Encode(w, cropped, format, imaging.JPEGQuality(95))
	})
}
