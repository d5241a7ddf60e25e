package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"image-vault/internal/logging"
)

// ErrPathTaken is returned by ClaimPath when something already exists at the
// path.
var ErrPathTaken = errors.New("path already exists")

// ClaimPath creates an empty placeholder at path, creating its directory. It
// fails with ErrPathTaken when the path already exists, so a successful claim
// means the caller may overwrite and later remove the file.
func ClaimPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrPathTaken, filepath.Base(path))
		}
		return fmt.Errorf("claim %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("claim %s: %w", filepath.Base(path), err)
	}
	return nil
}

// MoveFile relocates src to dst, creating dst's directory. A plain rename is
// tried first; when src and dst are on different devices the file is copied
// into dst's directory, synced, renamed into place and src removed.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		observe().ObserveRelocation("rename")
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename %s: %w", filepath.Base(src), err)
	}

	logging.Debug("Cross-device move for %s, falling back to copy", src)
	if err := copyInto(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		logging.Warn("Moved %s but could not remove source: %v", src, err)
	}
	observe().ObserveRelocation("copy")
	return nil
}

// CopyFile writes a copy of src at dst, creating dst's directory. dst only
// appears once the copy is complete.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	return copyInto(src, dst)
}

func copyInto(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".move-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}
