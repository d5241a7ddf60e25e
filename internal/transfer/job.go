package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FolderSpec is one entry of an upload job file: a directory and the file
// extensions (without dot, any case) to pick up from it.
type FolderSpec struct {
	FolderPath string   `json:"folderPath" validate:"required"`
	Extensions []string `json:"extensions" validate:"required,min=1,dive,required"`
}

var jobValidator = validator.New(validator.WithRequiredStructEnabled())

// ParseJob decodes and validates a job document, a JSON array of FolderSpec.
func ParseJob(data []byte) ([]FolderSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var specs []FolderSpec
	if err := dec.Decode(&specs); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if len(specs) == 0 {
		return nil, errors.New("job lists no folders")
	}

	for i := range specs {
		if err := jobValidator.Struct(&specs[i]); err != nil {
			return nil, fmt.Errorf("job entry %d: %w", i, err)
		}
		for j, ext := range specs[i].Extensions {
			specs[i].Extensions[j] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		}
	}
	return specs, nil
}

// LoadJob reads a job file from disk.
func LoadJob(path string) ([]FolderSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	return ParseJob(data)
}
