package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultFolder is used when an upload does not name a folder.
const DefaultFolder = "default"

// ThumbnailDirName is the per-folder subdirectory holding thumbnails.
const ThumbnailDirName = "thumbnails"

var folderPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrInvalidFolder is returned for folder names outside the safe character set.
var ErrInvalidFolder = errors.New("invalid folder name")

// ErrInvalidPath is returned when a relative name would escape its directory.
var ErrInvalidPath = errors.New("invalid path")

// NormalizeFolder returns the folder to store under. An empty folder maps to
// DefaultFolder; anything else must match [A-Za-z0-9_-]{1,64}.
func NormalizeFolder(folder string) (string, error) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return DefaultFolder, nil
	}
	if !folderPattern.MatchString(folder) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFolder, folder)
	}
	return folder, nil
}

// UniqueFilename derives the stored name <hash>_<unixMillis><ext>. The
// extension is taken from originalName and lower-cased.
func UniqueFilename(originalName, hash string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	return hash + "_" + strconv.FormatInt(now.UnixMilli(), 10) + ext
}

// Layout describes where assets live on disk.
//
//	<Root>/<folder>/<stored>
//	<Root>/<folder>/thumbnails/thumb_<stored without ext><thumbExt>
//	<StagingDir>/<prefix>_<millis>_<random><ext>
type Layout struct {
	Root       string
	StagingDir string
}

// NewLayout returns a Layout with absolute directories.
func NewLayout(root, staging string) (*Layout, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	absStaging, err := filepath.Abs(staging)
	if err != nil {
		return nil, fmt.Errorf("resolve staging dir: %w", err)
	}
	return &Layout{Root: absRoot, StagingDir: absStaging}, nil
}

// EnsureDirs creates the storage root and staging directory.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.Root, l.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// FolderDir returns the directory holding a folder's originals.
func (l *Layout) FolderDir(folder string) string {
	return filepath.Join(l.Root, folder)
}

// AssetPath returns the final location of a stored file.
func (l *Layout) AssetPath(folder, storedFilename string) string {
	return filepath.Join(l.Root, folder, storedFilename)
}

// ThumbnailPath returns the thumbnail location for a stored file.
func (l *Layout) ThumbnailPath(folder, storedFilename, ext string) string {
	base := strings.TrimSuffix(storedFilename, filepath.Ext(storedFilename))
	return filepath.Join(l.Root, folder, ThumbnailDirName, "thumb_"+base+ext)
}

// StaticPath resolves a public /storage request to a file under Root. Only a
// single folder component and a single file component are accepted, with an
// optional thumbnails segment in between.
func (l *Layout) StaticPath(folder, name string, thumbnail bool) (string, error) {
	if _, err := NormalizeFolder(folder); err != nil || folder == "" {
		return "", ErrInvalidPath
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsRune(name, '\\') {
		return "", ErrInvalidPath
	}
	if thumbnail {
		return filepath.Join(l.Root, folder, ThumbnailDirName, name), nil
	}
	return filepath.Join(l.Root, folder, name), nil
}

// CreateStagingFile creates a uniquely named file in the staging area. The name
// carries a millisecond timestamp and a random suffix so concurrent callers
// never share a file. The caller owns the returned file and must close it.
func (l *Layout) CreateStagingFile(prefix, ext string) (*os.File, error) {
	if err := os.MkdirAll(l.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	pattern := fmt.Sprintf("%s_%d_*%s", prefix, time.Now().UnixMilli(), strings.ToLower(ext))
	f, err := os.CreateTemp(l.StagingDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return f, nil
}

// StagingPath reserves a staging file name and returns its path. The file is
// created empty so the name cannot be claimed twice.
func (l *Layout) StagingPath(prefix, ext string) (string, error) {
	f, err := l.CreateStagingFile(prefix, ext)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
