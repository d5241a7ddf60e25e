package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"image-vault/internal/ingest"
	"image-vault/internal/mediatypes"
)

const (
	originalCacheControl  = "no-cache"
	thumbnailCacheControl = "public, max-age=31536000, immutable"
)

// ServeStorage serves a stored original by folder and file name.
func (h *Handlers) ServeStorage(w http.ResponseWriter, r *http.Request) {
	h.serveStatic(w, r, false, originalCacheControl)
}

// ServeThumbnail serves a cover thumbnail. Thumbnail names embed the content
// hash, so they are cached forever.
func (h *Handlers) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveStatic(w, r, true, thumbnailCacheControl)
}

// serveStatic serves files owned by live assets only. Soft-deleted assets
// keep their files on disk but are no longer reachable here.
func (h *Handlers) serveStatic(w http.ResponseWriter, r *http.Request, thumbnail bool, cacheControl string) {
	vars := mux.Vars(r)
	path, err := h.layout.StaticPath(vars["folder"], vars["file"], thumbnail)
	if err != nil {
		writeErrorCode(w, http.StatusNotFound, string(ingest.CodeNotFound), "file not found")
		return
	}

	live, err := h.db.IsLiveFile(r.Context(), path)
	if err != nil {
		writeError(w, r, fmt.Errorf("look up %s: %w", vars["file"], err))
		return
	}
	if !live {
		writeErrorCode(w, http.StatusNotFound, string(ingest.CodeNotFound), "file not found")
		return
	}
	serveFile(w, r, path, mediatypes.GetMimeType(filepath.Ext(path)), cacheControl)
}
