package transfer

import (
	"os"
	"path/filepath"
	"strings"
)

// Item is one file selected for upload.
type Item struct {
	Path        string
	DisplayName string
}

// Discover lists the regular files of every FolderSpec directory whose
// extension is listed. A directory that cannot be read is reported through
// obs and skipped. Subdirectories and hidden files are not descended into or
// returned.
func Discover(specs []FolderSpec, obs Observer) []Item {
	obs = observerOrNop(obs)

	var items []Item
	for _, spec := range specs {
		wanted := make(map[string]bool, len(spec.Extensions))
		for _, ext := range spec.Extensions {
			wanted[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
		}

		entries, err := os.ReadDir(spec.FolderPath)
		if err != nil {
			obs.OnProgress(errorf("Skipping %s: %v", spec.FolderPath, err))
			continue
		}

		found := 0
		for _, entry := range entries {
			name := entry.Name()
			if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
				continue
			}
			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
			if !wanted[ext] {
				continue
			}
			items = append(items, Item{Path: filepath.Join(spec.FolderPath, name), DisplayName: name})
			found++
		}
		obs.OnProgress(infof("Found %d matching files in %s", found, spec.FolderPath))
	}

	return items
}
