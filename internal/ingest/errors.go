package ingest

import (
	"errors"
	"fmt"
)

// Code classifies a failed operation. Handlers map codes to HTTP statuses.
type Code string

// Error codes reported to clients.
const (
	CodeInvalidImage     Code = "INVALID_IMAGE"
	CodeDuplicateImage   Code = "DUPLICATE_IMAGE"
	CodeThumbnailFailed  Code = "THUMBNAIL_GENERATION_FAILED"
	CodeRelocationFailed Code = "RELOCATION_FAILED"
	CodePersistFailed    Code = "PERSIST_FAILED"
	CodeCropFailed       Code = "CROP_FAILED"
	CodeExifUnsupported  Code = "EXIF_UNSUPPORTED"
	CodeExifWriteFailed  Code = "EXIF_WRITE_FAILED"
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeUnavailable      Code = "SERVICE_UNAVAILABLE"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Error is the failure type returned by every Service operation.
type Error struct {
	Code    Code
	Message string
	Err     error
	// ExistingID names the live asset that already holds the content
	// when Code is CodeDuplicateImage.
	ExistingID string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal for errors that
// did not come from this package.
func CodeOf(err error) Code {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return CodeInternal
}
