// Package media holds the image processing used by the vault.
//
// Inspect is the single corruption check: it fully decodes a file with the
// registered codecs and reports its dimensions, format and EXIF tags.
// ThumbnailGenerator produces the 300x300 cover thumbnails through a pluggable
// Encoder, CropToFile cuts regions out of originals and PreviewCache keeps
// PNG renditions of TIFF originals for clients that cannot display them.
//
// EXIF tags are limited to an allow list (see AllowedFields). They can be read
// from any format go-exif understands but only JPEG files can be rewritten.
//
// Every file this package writes goes through a temp file in the destination
// directory followed by a rename, so readers never observe a partial image.
package media
