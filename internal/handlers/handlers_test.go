package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"golang.org/x/image/tiff"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/ingest"
	"image-vault/internal/media"
	"image-vault/internal/startup"
)

// =============================================================================
// Test Harness
// =============================================================================

type testServer struct {
	h      *Handlers
	router *mux.Router
	db     *database.Database
	layout *filesystem.Layout
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()

	dir := t.TempDir()
	layout, err := filesystem.NewLayout(filepath.Join(dir, "storage"), filepath.Join(dir, "staging"))
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}

	db, err := database.New(context.Background(), filepath.Join(dir, "vault.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	thumbs := media.NewThumbnailGenerator(media.DefaultThumbnailSize, media.JPEGEncoder{})
	svc := ingest.NewService(db, layout, thumbs)
	h := New(svc, db, layout, &startup.Config{MaxUploadBytes: maxUpload})

	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &testServer{h: h, router: router, db: db, layout: layout}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req)
}

func (s *testServer) upload(t *testing.T, name string, data []byte, folder string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, name, data, folder)
	req := httptest.NewRequest(http.MethodPost, "/images", body)
	req.Header.Set("Content-Type", contentType)
	return s.do(t, req)
}

// mustUpload uploads data and returns the created asset.
func (s *testServer) mustUpload(t *testing.T, name string, data []byte, folder string) database.Asset {
	t.Helper()
	w := s.upload(t, name, data, folder)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var asset database.Asset
	decodeData(t, w, &asset)
	return asset
}

func multipartBody(t *testing.T, name string, data []byte, folder string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if folder != "" {
		if err := mw.WriteField("folder", folder); err != nil {
			t.Fatal(err)
		}
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

type rawEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) rawEnvelope {
	t.Helper()
	var env rawEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	env := decodeEnvelope(t, w)
	if !env.Success {
		t.Fatalf("success = false, error = %+v", env.Error)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) *errorBody {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %+v", env)
	}
	if env.Error.Code != code {
		t.Errorf("code = %s, want %s", env.Error.Code, code)
	}
	return env.Error
}

func testImage(w, h int, seed uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h, seed), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h, seed)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeTIFF(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, testImage(w, h, seed), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// =============================================================================
// Upload Tests
// =============================================================================

func TestUploadImage_Success(t *testing.T) {
	s := newTestServer(t, 5<<20)
	data := encodeJPEG(t, 400, 200, 1)

	asset := s.mustUpload(t, "holiday.jpg", data, "trips")

	if asset.ID == "" {
		t.Error("asset has no id")
	}
	if asset.Folder != "trips" {
		t.Errorf("Folder = %q, want trips", asset.Folder)
	}
	if asset.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q", asset.MimeType)
	}
	if asset.SizeBytes != int64(len(data)) {
		t.Errorf("SizeBytes = %d, want %d", asset.SizeBytes, len(data))
	}
	if asset.OriginalName != "holiday.jpg" {
		t.Errorf("OriginalName = %q", asset.OriginalName)
	}
	if asset.Metadata == nil || asset.Metadata.Width == nil || *asset.Metadata.Width != 400 {
		t.Errorf("Metadata = %+v, want width 400", asset.Metadata)
	}
}

func TestUploadImage_SniffsContentNotName(t *testing.T) {
	s := newTestServer(t, 5<<20)

	asset := s.mustUpload(t, "mislabelled.jpg", encodePNG(t, 20, 20, 2), "")
	if asset.MimeType != "image/png" {
		t.Errorf("MimeType = %q, want image/png from content", asset.MimeType)
	}
	if asset.Folder != filesystem.DefaultFolder {
		t.Errorf("Folder = %q, want default", asset.Folder)
	}
}

func TestUploadImage_Errors(t *testing.T) {
	s := newTestServer(t, 64<<10)

	tests := []struct {
		name     string
		file     string
		data     []byte
		folder   string
		wantCode int
		wantErr  string
	}{
		{"not an image", "notes.jpg", []byte("plain text pretending"), "", http.StatusBadRequest, "INVALID_IMAGE"},
		{"truncated jpeg", "broken.jpg", encodeJPEG(t, 64, 64, 3)[:200], "", http.StatusBadRequest, "INVALID_IMAGE"},
		{"missing file", "", nil, "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad folder", "a.jpg", encodeJPEG(t, 8, 8, 4), "../up", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"too large", "big.png", bytes.Repeat([]byte{0x89}, 128<<10), "", http.StatusRequestEntityTooLarge, codePayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.upload(t, tt.file, tt.data, tt.folder)
			expectError(t, w, tt.wantCode, tt.wantErr)
		})
	}
}

func TestUploadImage_NotMultipart(t *testing.T) {
	s := newTestServer(t, 5<<20)
	w := s.doJSON(t, http.MethodPost, "/images", map[string]string{"file": "x"})
	expectError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestUploadImage_Duplicate(t *testing.T) {
	s := newTestServer(t, 5<<20)
	data := encodeJPEG(t, 50, 50, 5)

	first := s.mustUpload(t, "a.jpg", data, "")
	w := s.upload(t, "b.jpg", data, "elsewhere")

	body := expectError(t, w, http.StatusConflict, "DUPLICATE_IMAGE")
	if body.ExistingID != first.ID {
		t.Errorf("existingId = %q, want %q", body.ExistingID, first.ID)
	}
}

// =============================================================================
// Read Tests
// =============================================================================

func TestListImages(t *testing.T) {
	s := newTestServer(t, 5<<20)
	for i := 0; i < 3; i++ {
		s.mustUpload(t, "a.jpg", encodeJPEG(t, 16, 16, uint8(10+i)), "alpha")
	}
	s.mustUpload(t, "b.png", encodePNG(t, 16, 16, 20), "beta")

	tests := []struct {
		name      string
		query     string
		wantItems int
		wantTotal int
		wantLimit int
	}{
		{"all", "", 4, 4, database.DefaultPageLimit},
		{"by folder", "?folder=alpha", 3, 3, database.DefaultPageLimit},
		{"by mimetype", "?mimetype=image/png", 1, 1, database.DefaultPageLimit},
		{"second page", "?limit=3&page=2", 1, 4, 3},
		{"limit capped", "?limit=1000", 4, 4, database.MaxPageLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.doJSON(t, http.MethodGet, "/images"+tt.query, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			var res listResponse
			decodeData(t, w, &res)
			if len(res.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(res.Items), tt.wantItems)
			}
			if res.Pagination.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", res.Pagination.Total, tt.wantTotal)
			}
			if res.Pagination.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", res.Pagination.Limit, tt.wantLimit)
			}
		})
	}
}

func TestListImages_InvalidQuery(t *testing.T) {
	s := newTestServer(t, 5<<20)

	for _, q := range []string{"?page=0", "?page=x", "?limit=-1", "?folder=a/b", "?sort=colour", "?order=up"} {
		t.Run(q, func(t *testing.T) {
			w := s.doJSON(t, http.MethodGet, "/images"+q, nil)
			expectError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
		})
	}
}

func TestGetImage_StreamsBytes(t *testing.T) {
	s := newTestServer(t, 5<<20)
	data := encodeJPEG(t, 30, 30, 30)
	asset := s.mustUpload(t, "a.jpg", data, "")

	w := s.doJSON(t, http.MethodGet, "/images/"+asset.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Error("body does not match uploaded bytes")
	}
}

func TestGetImage_TIFFPreview(t *testing.T) {
	s := newTestServer(t, 5<<20)
	data := encodeTIFF(t, 40, 20, 31)
	asset := s.mustUpload(t, "scan.tiff", data, "")
	if asset.MimeType != "image/tiff" {
		t.Fatalf("MimeType = %q, want image/tiff", asset.MimeType)
	}

	tests := []struct {
		name     string
		query    string
		accept   string
		wantType string
	}{
		{"browser default", "", "image/avif,image/webp,*/*", "image/png"},
		{"accepts tiff", "", "image/tiff", "image/tiff"},
		{"explicit preview", "?preview=1", "image/tiff", "image/png"},
		{"preview disabled", "?preview=false", "", "image/tiff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/images/"+asset.ID+tt.query, http.NoBody)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := s.do(t, req)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantType)
			}
			if tt.wantType == "image/png" {
				if _, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes())); err != nil {
					t.Errorf("preview is not a PNG: %v", err)
				}
			}
		})
	}
}

func TestGetImage_TIFFPreviewMissingFile(t *testing.T) {
	s := newTestServer(t, 5<<20)
	asset := s.mustUpload(t, "gone.tiff", encodeTIFF(t, 16, 16, 33), "")
	if err := os.Remove(s.layout.AssetPath(asset.Folder, asset.StoredFilename)); err != nil {
		t.Fatal(err)
	}

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/images/"+asset.ID+"?preview=1", http.NoBody))
	expectError(t, w, http.StatusNotFound, "NOT_FOUND")
}

func TestGetImageMeta(t *testing.T) {
	s := newTestServer(t, 5<<20)
	asset := s.mustUpload(t, "a.jpg", encodeJPEG(t, 12, 34, 32), "")

	w := s.doJSON(t, http.MethodGet, "/images/"+asset.ID+"/meta", nil)
	var got database.Asset
	decodeData(t, w, &got)
	if got.ID != asset.ID || got.ContentHash != asset.ContentHash {
		t.Errorf("meta = %+v, want %+v", got, asset)
	}

	w = s.doJSON(t, http.MethodGet, "/images/does-not-exist/meta", nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND")
}

func TestGetImageExif_NoExif(t *testing.T) {
	s := newTestServer(t, 5<<20)
	asset := s.mustUpload(t, "a.png", encodePNG(t, 10, 10, 33), "")

	w := s.doJSON(t, http.MethodGet, "/images/"+asset.ID+"/exif", nil)
	var tags map[string]string
	decodeData(t, w, &tags)
	if len(tags) != 0 {
		t.Errorf("tags = %v, want none", tags)
	}
}

// =============================================================================
// Mutation Tests
// =============================================================================

func TestCropImage(t *testing.T) {
	s := newTestServer(t, 5<<20)
	parent := s.mustUpload(t, "a.jpg", encodeJPEG(t, 100, 80, 40), "crops")

	w := s.doJSON(t, http.MethodPost, "/images/"+parent.ID+"/crop", map[string]float64{
		"x": 10, "y": 10, "width": 50, "height": 40,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var child database.Asset
	decodeData(t, w, &child)
	if child.ID == parent.ID {
		t.Error("crop reused the parent id")
	}
	if child.Folder != "crops" {
		t.Errorf("Folder = %q", child.Folder)
	}
	if child.Metadata == nil || *child.Metadata.Width != 50 || *child.Metadata.Height != 40 {
		t.Errorf("Metadata = %+v, want 50x40", child.Metadata)
	}
}

func TestCropImage_Invalid(t *testing.T) {
	s := newTestServer(t, 5<<20)
	parent := s.mustUpload(t, "a.jpg", encodeJPEG(t, 20, 20, 41), "")

	tests := []struct {
		name string
		body any
	}{
		{"missing width", map[string]float64{"x": 0, "y": 0, "height": 5}},
		{"zero height", map[string]float64{"x": 0, "y": 0, "width": 5, "height": 0}},
		{"negative x", map[string]float64{"x": -1, "y": 0, "width": 5, "height": 5}},
		{"unknown field", map[string]any{"x": 0, "y": 0, "width": 5, "height": 5, "angle": 90}},
		{"outside image", map[string]float64{"x": 100, "y": 100, "width": 5, "height": 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.doJSON(t, http.MethodPost, "/images/"+parent.ID+"/crop", tt.body)
			expectError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
		})
	}
}

func TestUpdateImage_MoveFolder(t *testing.T) {
	s := newTestServer(t, 5<<20)
	asset := s.mustUpload(t, "a.jpg", encodeJPEG(t, 20, 20, 42), "inbox")

	w := s.doJSON(t, http.MethodPatch, "/images/"+asset.ID, map[string]any{
		"folder":   "archive",
		"metadata": map[string]any{"artist": "Ada"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var moved database.Asset
	decodeData(t, w, &moved)
	if moved.Folder != "archive" {
		t.Errorf("Folder = %q, want archive", moved.Folder)
	}
	if moved.Metadata == nil || moved.Metadata.Artist == nil || *moved.Metadata.Artist != "Ada" {
		t.Errorf("Metadata = %+v", moved.Metadata)
	}

	w = s.doJSON(t, http.MethodGet, "/storage/archive/"+moved.StoredFilename, nil)
	if w.Code != http.StatusOK {
		t.Errorf("moved original not served: %d", w.Code)
	}
}

func TestUpdateImage_Invalid(t *testing.T) {
	s := newTestServer(t, 5<<20)
	asset := s.mustUpload(t, "a.jpg", encodeJPEG(t, 20, 20, 43), "")

	w := s.doJSON(t, http.MethodPatch, "/images/"+asset.ID, map[string]any{})
	expectError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")

	w = s.doJSON(t, http.MethodPatch, "/images/"+asset.ID, map[string]any{"folder": "no/slashes"})
	expectError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")

	w = s.doJSON(t, http.MethodPatch, "/images/missing", map[string]any{"folder": "x"})
	expectError(t, w, http.StatusNotFound, "NOT_FOUND")
}

func TestUpdateImageExif(t *testing.T) {
	s := newTestServer(t, 5<<20)
	asset := s.mustUpload(t, "a.jpg", encodeJPEG(t, 24, 24, 44), "")

	w := s.doJSON(t, http.MethodPatch, "/images/"+asset.ID+"/exif", map[string]any{
		"artist": "Grace",
		"iso":    "200",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated database.Asset
	decodeData(t, w, &updated)
	if updated.ContentHash == asset.ContentHash {
		t.Error("content hash did not change after EXIF rewrite")
	}

	w = s.doJSON(t, http.MethodGet, "/images/"+asset.ID+"/exif", nil)
	var tags map[string]string
	decodeData(t, w, &tags)
	if tags["artist"] != "Grace" || tags["iso"] != "200" {
		t.Errorf("tags = %v", tags)
	}
}

func TestUpdateImageExif_Errors(t *testing.T) {
	s := newTestServer(t, 5<<20)
	jpg := s.mustUpload(t, "a.jpg", encodeJPEG(t, 24, 24, 45), "")
	pngAsset := s.mustUpload(t, "b.png", encodePNG(t, 24, 24, 46), "")

	tests := []struct {
		name       string
		id         string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"png unsupported", pngAsset.ID, map[string]any{"artist": "x"}, http.StatusUnsupportedMediaType, "EXIF_UNSUPPORTED"},
		{"unknown field", jpg.ID, map[string]any{"lens": "x"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad iso", jpg.ID, map[string]any{"iso": "fast"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty body", jpg.ID, map[string]any{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing asset", "nope", map[string]any{"artist": "x"}, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.doJSON(t, http.MethodPatch, "/images/"+tt.id+"/exif", tt.body)
			expectError(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestDeleteImage(t *testing.T) {
	s := newTestServer(t, 5<<20)
	asset := s.mustUpload(t, "a.jpg", encodeJPEG(t, 20, 20, 47), "")

	w := s.doJSON(t, http.MethodDelete, "/images/"+asset.ID, nil)
	var res deleteManyResponse
	decodeData(t, w, &res)
	if res.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", res.Deleted)
	}

	w = s.doJSON(t, http.MethodGet, "/images/"+asset.ID+"/meta", nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND")

	w = s.doJSON(t, http.MethodDelete, "/images/"+asset.ID, nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND")

	// Soft delete keeps the files on disk but stops serving them.
	for _, p := range []string{
		s.layout.AssetPath(asset.Folder, asset.StoredFilename),
		s.layout.ThumbnailPath(asset.Folder, asset.StoredFilename, ".jpg"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("soft delete removed %s: %v", filepath.Base(p), err)
		}
	}
	w = s.doJSON(t, http.MethodGet, "/storage/"+asset.Folder+"/"+asset.StoredFilename, nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND")
	w = s.doJSON(t, http.MethodGet, "/storage/"+asset.Folder+"/thumbnails/"+filepath.Base(asset.ThumbnailPath), nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND")
}

func TestDeleteImages(t *testing.T) {
	s := newTestServer(t, 5<<20)
	a := s.mustUpload(t, "a.jpg", encodeJPEG(t, 20, 20, 48), "")
	b := s.mustUpload(t, "b.jpg", encodeJPEG(t, 20, 20, 49), "")

	w := s.doJSON(t, http.MethodDelete, "/images", map[string]any{"ids": []string{a.ID, b.ID, "unknown"}})
	var res deleteManyResponse
	decodeData(t, w, &res)
	if res.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", res.Deleted)
	}

	w = s.doJSON(t, http.MethodDelete, "/images", map[string]any{"ids": []string{}})
	expectError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")

	w = s.doJSON(t, http.MethodDelete, "/images", nil)
	expectError(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
}

// =============================================================================
// Static Storage Tests
// =============================================================================

func TestServeStorage_CacheHeaders(t *testing.T) {
	s := newTestServer(t, 5<<20)
	asset := s.mustUpload(t, "a.jpg", encodeJPEG(t, 400, 300, 50), "")

	w := s.doJSON(t, http.MethodGet, "/storage/"+asset.Folder+"/"+asset.StoredFilename, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("original status = %d", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != originalCacheControl {
		t.Errorf("original Cache-Control = %q", cc)
	}

	thumb := filepath.Base(asset.ThumbnailPath)
	w = s.doJSON(t, http.MethodGet, "/storage/"+asset.Folder+"/thumbnails/"+thumb, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("thumbnail status = %d", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != thumbnailCacheControl {
		t.Errorf("thumbnail Cache-Control = %q", cc)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("thumbnail is not an image: %v", err)
	}
	if cfg.Width != media.DefaultThumbnailSize || cfg.Height != media.DefaultThumbnailSize {
		t.Errorf("thumbnail = %dx%d", cfg.Width, cfg.Height)
	}
}

func TestServeStorage_RejectsTraversal(t *testing.T) {
	s := newTestServer(t, 5<<20)

	for _, path := range []string{
		"/storage/default/..%2F..%2Fvault.db",
		"/storage/..%2F/x.jpg",
		"/storage/default/missing.jpg",
		"/storage/bad%20folder/x.jpg",
	} {
		t.Run(path, func(t *testing.T) {
			// mux redirects dot segments to the cleaned path; nothing is served.
			w := s.do(t, httptest.NewRequest(http.MethodGet, path, http.NoBody))
			if w.Code != http.StatusNotFound && w.Code != http.StatusMovedPermanently {
				t.Errorf("status = %d, want 404 or 301", w.Code)
			}
		})
	}
}

// =============================================================================
// Probe Tests
// =============================================================================

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, 5<<20)
	s.mustUpload(t, "a.jpg", encodeJPEG(t, 20, 20, 51), "")

	w := s.doJSON(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != statusHealthy || !health.Ready || health.TotalAssets != 1 {
		t.Errorf("health = %+v", health)
	}

	for _, path := range []string{"/livez", "/readyz"} {
		w := s.doJSON(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, w.Code)
		}
	}

	w = s.do(t, httptest.NewRequest(http.MethodHead, "/livez", http.NoBody))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("HEAD /livez = %d with %d body bytes", w.Code, w.Body.Len())
	}
}

func TestHealthEndpoints_DatabaseClosed(t *testing.T) {
	s := newTestServer(t, 5<<20)
	s.db.Close()

	w := s.doJSON(t, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", w.Code)
	}
	w = s.doJSON(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", w.Code)
	}
}

func TestRouter_UnknownRouteAndMethod(t *testing.T) {
	s := newTestServer(t, 5<<20)

	w := s.doJSON(t, http.MethodGet, "/nope", nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND")

	w = s.doJSON(t, http.MethodPut, "/images", nil)
	expectError(t, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

// =============================================================================
// Error Mapping Tests
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code ingest.Code
		want int
	}{
		{ingest.CodeValidation, http.StatusBadRequest},
		{ingest.CodeInvalidImage, http.StatusBadRequest},
		{ingest.CodeNotFound, http.StatusNotFound},
		{ingest.CodeDuplicateImage, http.StatusConflict},
		{ingest.CodeExifUnsupported, http.StatusUnsupportedMediaType},
		{ingest.CodeUnavailable, http.StatusServiceUnavailable},
		{ingest.CodeThumbnailFailed, http.StatusInternalServerError},
		{ingest.CodeRelocationFailed, http.StatusInternalServerError},
		{ingest.CodeCropFailed, http.StatusInternalServerError},
		{ingest.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.code); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/images", http.NoBody)

	for _, err := range []error{
		io.ErrUnexpectedEOF,
		&ingest.Error{Code: ingest.CodeInternal, Message: "sql: connection refused"},
	} {
		w := httptest.NewRecorder()
		writeError(w, req, err)
		body := expectError(t, w, http.StatusInternalServerError, "INTERNAL_ERROR")
		if strings.Contains(body.Message, "sql") || strings.Contains(body.Message, "EOF") {
			t.Errorf("message leaks detail: %q", body.Message)
		}
	}
}
