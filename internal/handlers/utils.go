package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"image-vault/internal/ingest"
	"image-vault/internal/logging"
)

// Codes produced at the HTTP boundary in addition to the ingest codes.
const (
	codePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type errorBody struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	ExistingID string `json:"existingId,omitempty"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, envelope{Success: true, Data: data})
}

// writeErrorCode writes a failure envelope with an explicit status and code.
func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, envelope{Error: &errorBody{Message: message, Code: code}})
}

// writeError maps a service error to its HTTP status. Errors that did not
// come from the ingest layer are logged and reported as INTERNAL_ERROR with
// a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ie *ingest.Error
	if !errors.As(err, &ie) {
		logging.Error("%s %s: %v", r.Method, r.URL.Path, err)
		writeErrorCode(w, http.StatusInternalServerError, string(ingest.CodeInternal), "internal server error")
		return
	}

	status := statusFor(ie.Code)
	if status >= http.StatusInternalServerError {
		logging.Error("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logging.Debug("%s %s: %v", r.Method, r.URL.Path, err)
	}

	message := ie.Message
	if ie.Code == ingest.CodeInternal {
		message = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, envelope{Error: &errorBody{
		Message:    message,
		Code:       string(ie.Code),
		ExistingID: ie.ExistingID,
	}})
}

func statusFor(code ingest.Code) int {
	switch code {
	case ingest.CodeValidation, ingest.CodeInvalidImage:
		return http.StatusBadRequest
	case ingest.CodeNotFound:
		return http.StatusNotFound
	case ingest.CodeDuplicateImage:
		return http.StatusConflict
	case ingest.CodeExifUnsupported:
		return http.StatusUnsupportedMediaType
	case ingest.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": status})
}
