package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/ingest"
	"image-vault/internal/logging"
	"image-vault/internal/media"
	"image-vault/internal/mediatypes"
)

// multipartMemory is how much of a multipart body is held in memory before
// the rest spills to temporary files.
const multipartMemory = 8 << 20

type pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type listResponse struct {
	Items      []database.Asset `json:"items"`
	Pagination pagination       `json:"pagination"`
}

// UploadImage accepts a multipart upload (field "file", optional "folder"),
// stages it, checks the sniffed content type and runs the ingest pipeline.
func (h *Handlers) UploadImage(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUpload {
		h.writeTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeTooLarge(w)
			return
		}
		writeError(w, r, validationError(errors.New("request must be multipart/form-data")))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logging.Warn("Failed to remove multipart temp files: %v", err)
		}
	}()

	req := uploadRequest{Folder: r.FormValue("folder")}
	if err := checkStruct(&req); err != nil {
		writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, validationError(errors.New("file is required")))
		return
	}
	defer file.Close()

	staged, size, err := h.svc.Stage(file, header.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}

	mime, err := sniff(staged)
	if err != nil {
		if rmErr := filesystem.RemoveIfExists(staged); rmErr != nil {
			logging.Warn("Failed to remove rejected upload %s: %v", staged, rmErr)
		}
		writeError(w, r, err)
		return
	}
	logging.Debug("Upload %q staged (%d bytes, %s)", header.Filename, size, mime)

	asset, err := h.svc.Ingest(r.Context(), ingest.Upload{
		StagedPath:   staged,
		OriginalName: header.Filename,
		MimeType:     mime,
		Folder:       req.Folder,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, asset)
}

func (h *Handlers) writeTooLarge(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
		"upload exceeds "+strconv.FormatInt(h.maxUpload>>10, 10)+" KiB")
}

// sniff reads the staged file's magic bytes. The client-supplied content type
// is never trusted.
func sniff(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", &ingest.Error{Code: ingest.CodeInternal, Message: "read staged upload", Err: err}
	}
	mime, _, _ := strings.Cut(mt.String(), ";")
	if !mediatypes.AcceptedMimeTypes[mime] {
		return "", &ingest.Error{Code: ingest.CodeInvalidImage, Message: "unsupported content type " + mime}
	}
	return mime, nil
}

// ListImages returns one page of live assets.
func (h *Handlers) ListImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := listRequest{
		Page:     1,
		Limit:    database.DefaultPageLimit,
		MimeType: q.Get("mimetype"),
		Folder:   q.Get("folder"),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
	}

	var err error
	if req.Page, err = intParam(q.Get("page"), req.Page); err != nil {
		writeError(w, r, validationError(errors.New("page must be an integer")))
		return
	}
	if req.Limit, err = intParam(q.Get("limit"), req.Limit); err != nil {
		writeError(w, r, validationError(errors.New("limit must be an integer")))
		return
	}
	if err := checkStruct(&req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.List(r.Context(), database.ListOptions{
		Page:     req.Page,
		Limit:    min(req.Limit, database.MaxPageLimit),
		MimeType: req.MimeType,
		Folder:   req.Folder,
		Sort:     mediatypes.ParseSortField(req.Sort),
		Order:    mediatypes.ParseSortOrder(req.Order),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, listResponse{
		Items:      res.Items,
		Pagination: pagination{Total: res.Total, Page: res.Page, Limit: res.Limit},
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// GetImage streams an asset's bytes. TIFF originals are converted to a PNG
// preview when the client asks for one or does not accept TIFF.
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	asset, err := h.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	path, contentType := asset.AbsolutePath, asset.MimeType
	if mediatypes.IsTIFF(asset.MimeType) && wantsPreview(r) {
		preview, err := h.previews.Path(asset.AbsolutePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				writeError(w, r, &ingest.Error{Code: ingest.CodeNotFound, Message: "asset file missing", Err: err})
				return
			}
			writeError(w, r, err)
			return
		}
		path, contentType = preview, "image/png"
	}

	serveFile(w, r, path, contentType, "no-cache")
}

func wantsPreview(r *http.Request) bool {
	if v := r.URL.Query().Get("preview"); v != "" {
		on, err := strconv.ParseBool(v)
		return err == nil && on
	}
	return !strings.Contains(r.Header.Get("Accept"), "image/tiff")
}

// serveFile writes path with range and conditional request support.
func serveFile(w http.ResponseWriter, r *http.Request, path, contentType, cacheControl string) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeErrorCode(w, http.StatusNotFound, string(ingest.CodeNotFound), "file not found")
			return
		}
		writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if info.IsDir() {
		writeErrorCode(w, http.StatusNotFound, string(ingest.CodeNotFound), "file not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// GetImageMeta returns the catalog record.
func (h *Handlers) GetImageMeta(w http.ResponseWriter, r *http.Request) {
	asset, err := h.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, asset)
}

// GetImageExif returns the allow-listed EXIF tags stored in the file.
func (h *Handlers) GetImageExif(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.ReadExif(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tags)
}

// CropImage stores a region of an asset as a new asset.
func (h *Handlers) CropImage(w http.ResponseWriter, r *http.Request) {
	var req cropRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	asset, err := h.svc.Crop(r.Context(), mux.Vars(r)["id"], req.rect())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, asset)
}

// UpdateImage merges metadata and/or moves the asset to another folder.
func (h *Handlers) UpdateImage(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Metadata == nil && req.Folder == nil {
		writeError(w, r, validationError(errors.New("metadata or folder is required")))
		return
	}

	asset, err := h.svc.Update(r.Context(), mux.Vars(r)["id"], ingest.Patch{
		Metadata: req.Metadata,
		Folder:   req.Folder,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, asset)
}

// UpdateImageExif rewrites allow-listed EXIF tags. A null value clears the
// tag.
func (h *Handlers) UpdateImageExif(w http.ResponseWriter, r *http.Request) {
	var body map[string]*string
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if len(body) == 0 {
		writeError(w, r, validationError(errors.New("at least one EXIF field is required")))
		return
	}

	changes := make(map[media.ExifField]*string, len(body))
	for key, value := range body {
		field := media.ExifField(key)
		if !media.IsAllowedField(field) {
			writeError(w, r, validationError(errors.New("unsupported EXIF field "+strconv.Quote(key))))
			return
		}
		changes[field] = value
	}

	asset, err := h.svc.UpdateExif(r.Context(), mux.Vars(r)["id"], changes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, asset)
}

// DeleteImage soft-deletes one asset.
func (h *Handlers) DeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deleteManyResponse{Deleted: 1})
}

// DeleteImages soft-deletes every listed asset. Unknown or already deleted
// ids are skipped.
func (h *Handlers) DeleteImages(w http.ResponseWriter, r *http.Request) {
	var req deleteManyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	n, err := h.svc.DeleteMany(r.Context(), req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deleteManyResponse{Deleted: n})
}
