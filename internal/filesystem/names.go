package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// maxNameAttempts bounds the _n suffix search.
const maxNameAttempts = 10000

// SanitizeFilename reduces a display name to a safe single path component.
// Characters outside letters, digits, space, dot, dash and underscore become
// underscores. An empty result becomes "image".
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "image"
	}
	return out
}

// candidateName returns name for n == 0 and base_n.ext otherwise.
func candidateName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(n) + ext
}

// NameRegistry hands out collision-free file names in one directory. Names are
// checked against the disk and against every name already reserved through the
// registry, so concurrent callers never receive the same name.
type NameRegistry struct {
	dir   string
	mu    sync.Mutex
	taken map[string]struct{}
}

// NewNameRegistry returns a registry for dir.
func NewNameRegistry(dir string) *NameRegistry {
	return &NameRegistry{dir: dir, taken: make(map[string]struct{})}
}

// Reserve returns the first free name among name, name_1, name_2 ... and
// returns its full path.
func (r *NameRegistry) Reserve(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for n := 0; n < maxNameAttempts; n++ {
		candidate := candidateName(name, n)
		if _, ok := r.taken[candidate]; ok {
			continue
		}
		path := filepath.Join(r.dir, candidate)
		if _, err := os.Lstat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("check %s: %w", candidate, err)
		}
		r.taken[candidate] = struct{}{}
		return path, nil
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", name, maxNameAttempts)
}

// Release forgets a reserved path so it can be handed out again.
func (r *NameRegistry) Release(path string) {
	r.mu.Lock()
	delete(r.taken, filepath.Base(path))
	r.mu.Unlock()
}
