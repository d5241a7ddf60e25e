/*
Package filesystem owns the on-disk layout of the vault and the file
operations the pipelines depend on.

# Layout

Originals live at <root>/<folder>/<stored>, thumbnails at
<root>/<folder>/thumbnails/thumb_<stored without ext>.webp. Stored names are
derived with UniqueFilename as <hash>_<unixMillis><ext>. Uploads in flight sit
in a shared staging directory; CreateStagingFile gives each caller its own file.

# Relocation

MoveFile renames a file into place and falls back to copy plus rename when the
staging directory and the storage root are on different devices.

# Export naming

NameRegistry hands out photo.jpg, photo_1.jpg, photo_2.jpg ... for one
destination directory and is safe for concurrent use.

# NFS retries

StatWithRetry and OpenWithRetry retry ESTALE errors with exponential backoff:

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Only ESTALE triggers a retry. Retry counts are reported through the Observer
set with SetObserver, labelled by the volume a VolumeResolver assigns.
*/
package filesystem
