package mediatypes

import "strings"

// SortField specifies which catalog column a listing is ordered by.
type SortField string

// SortOrder specifies the direction of sorting.
type SortOrder string

const (
	// SortByCreated orders by creation time.
	SortByCreated SortField = "created"
	// SortByName orders by original filename.
	SortByName SortField = "name"
	// SortBySize orders by file size.
	SortBySize SortField = "size"

	// SortAsc sorts in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts in descending order.
	SortDesc SortOrder = "desc"
)

// ParseSortField returns the field named by s, defaulting to SortByCreated.
func ParseSortField(s string) SortField {
	switch SortField(strings.ToLower(s)) {
	case SortByName:
		return SortByName
	case SortBySize:
		return SortBySize
	default:
		return SortByCreated
	}
}

// ParseSortOrder returns the order named by s, defaulting to SortDesc.
func ParseSortOrder(s string) SortOrder {
	if SortOrder(strings.ToLower(s)) == SortAsc {
		return SortAsc
	}
	return SortDesc
}

// UploadMimeTypes is the fixed mapping the batch uploader uses to label files.
// Extensions outside it are rejected before any network call.
var UploadMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// MimeTypes maps every extension the server can store or serve to its MIME type.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

// AcceptedMimeTypes lists the content types accepted on upload.
var AcceptedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/webp": true,
	"image/tiff": true,
}

// canonicalExt is the extension used when a stored name has to be derived from
// a content type.
var canonicalExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/webp": ".webp",
	"image/tiff": ".tiff",
}

// NormalizeExt lower-cases ext and ensures a leading dot. "JPG" and ".JPG"
// both become ".jpg"; an empty string stays empty.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// UploadMimeType returns the MIME type the batch uploader sends for ext.
func UploadMimeType(ext string) (string, bool) {
	mime, ok := UploadMimeTypes[NormalizeExt(ext)]
	return mime, ok
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[NormalizeExt(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// ExtensionFor returns the canonical extension for an accepted MIME type.
func ExtensionFor(mime string) (string, bool) {
	ext, ok := canonicalExt[strings.ToLower(mime)]
	return ext, ok
}

// IsTIFF reports whether mime names a TIFF image.
func IsTIFF(mime string) bool {
	return strings.EqualFold(mime, "image/tiff")
}
