package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/ingest"
)

// maxJSONBody bounds every JSON request body.
const maxJSONBody = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		// Empty is allowed; it selects the default folder.
		_ = validate.RegisterValidation("folder", func(fl validator.FieldLevel) bool {
			_, err := filesystem.NormalizeFolder(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

type listRequest struct {
	Page     int    `json:"page" validate:"min=1"`
	Limit    int    `json:"limit" validate:"min=1"`
	MimeType string `json:"mimetype" validate:"omitempty,max=64"`
	Folder   string `json:"folder" validate:"folder"`
	Sort     string `json:"sort" validate:"omitempty,oneof=created name size"`
	Order    string `json:"order" validate:"omitempty,oneof=asc desc"`
}

type uploadRequest struct {
	Folder string `json:"folder" validate:"folder"`
}

type cropRequest struct {
	X      *float64 `json:"x" validate:"required,min=0"`
	Y      *float64 `json:"y" validate:"required,min=0"`
	Width  *float64 `json:"width" validate:"required,gt=0"`
	Height *float64 `json:"height" validate:"required,gt=0"`
}

func (c cropRequest) rect() ingest.Rect {
	return ingest.Rect{X: *c.X, Y: *c.Y, Width: *c.Width, Height: *c.Height}
}

type updateRequest struct {
	Metadata *database.Metadata `json:"metadata"`
	Folder   *string            `json:"folder" validate:"omitempty,folder"`
}

type deleteManyRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required,max=64"`
}

type deleteManyResponse struct {
	Deleted int64 `json:"deleted"`
}

// validationError converts a failed request check into an ingest error so
// writeError reports it as VALIDATION_ERROR.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describeField(fe))
		}
		return &ingest.Error{Code: ingest.CodeValidation, Message: strings.Join(msgs, "; "), Err: err}
	}
	return &ingest.Error{Code: ingest.CodeValidation, Message: err.Error(), Err: err}
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min", "gt":
		return fmt.Sprintf("%s must be %s %s", fe.Field(), comparison(fe.Tag()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "folder":
		return fmt.Sprintf("%s must be 1-64 letters, digits, '-' or '_'", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func comparison(tag string) string {
	if tag == "gt" {
		return "greater than"
	}
	return "at least"
}

// checkStruct runs the request validator.
func checkStruct(v any) error {
	if err := getValidator().Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// decodeJSON reads a bounded JSON body into v and validates it. Unknown
// fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := readJSON(w, r, v); err != nil {
		return err
	}
	return checkStruct(v)
}

// readJSON decodes without running the validator, for bodies that are not
// structs.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return validationError(errors.New("request body is empty"))
		}
		return validationError(fmt.Errorf("malformed JSON body: %w", err))
	}
	if dec.More() {
		return validationError(errors.New("request body must hold a single JSON value"))
	}
	return nil
}
