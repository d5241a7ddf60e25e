package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"image-vault/internal/ingest"
)

// RegisterRoutes mounts the API, the static storage routes and the health endpoints on r.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	// Probes and build info
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	// Images
	r.HandleFunc("/images", h.UploadImage).Methods(http.MethodPost)
	r.HandleFunc("/images", h.ListImages).Methods(http.MethodGet)
	r.HandleFunc("/images", h.DeleteImages).Methods(http.MethodDelete)
	r.HandleFunc("/images/{id}", h.GetImage).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/images/{id}", h.UpdateImage).Methods(http.MethodPatch)
	r.HandleFunc("/images/{id}", h.DeleteImage).Methods(http.MethodDelete)
	r.HandleFunc("/images/{id}/meta", h.GetImageMeta).Methods(http.MethodGet)
	r.HandleFunc("/images/{id}/exif", h.GetImageExif).Methods(http.MethodGet)
	r.HandleFunc("/images/{id}/exif", h.UpdateImageExif).Methods(http.MethodPatch)
	r.HandleFunc("/images/{id}/crop", h.CropImage).Methods(http.MethodPost)

	// Stored files
	r.HandleFunc("/storage/{folder}/thumbnails/{file}", h.ServeThumbnail).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/storage/{folder}/{file}", h.ServeStorage).Methods(http.MethodGet, http.MethodHead)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusNotFound, string(ingest.CodeNotFound), "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})
}
