package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// Logging Middleware Tests
// =============================================================================

func TestNewResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected default status code 200, got %d", rw.statusCode)
	}
	if rw.bytesWritten != 0 {
		t.Errorf("Expected bytesWritten to be 0, got %d", rw.bytesWritten)
	}
	if rw.wroteHeader {
		t.Error("Expected wroteHeader to be false initially")
	}
}

func TestResponseWriterWriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", rw.statusCode)
	}
}

func TestResponseWriterWrite(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	data := []byte("test data")
	n, err := rw.Write(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != len(data) || rw.bytesWritten != int64(len(data)) {
		t.Errorf("wrote %d, counted %d, want %d", n, rw.bytesWritten, len(data))
	}
	if !rw.wroteHeader {
		t.Error("Expected wroteHeader to be true after Write")
	}
}

func TestDefaultLoggingConfig(t *testing.T) {
	config := DefaultLoggingConfig()

	for _, ext := range []string{".jpg", ".png", ".webp", ".tiff"} {
		found := false
		for _, skip := range config.SkipExtensions {
			if skip == ext {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected extension %s in SkipExtensions", ext)
		}
	}
	if config.LogStaticFiles {
		t.Error("Expected LogStaticFiles to be false by default")
	}
	if !config.LogHealthChecks {
		t.Error("Expected LogHealthChecks to be true by default")
	}
}

func TestLoggerMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		config        LoggingConfig
		expectLogging bool
	}{
		{"Logs API requests", "/images", DefaultLoggingConfig(), true},
		{"Skips storage when static logging is off", "/storage/default/a.jpg", DefaultLoggingConfig(), false},
		{"Skips image extensions", "/images/abc/preview.png", DefaultLoggingConfig(), false},
		{"Logs storage when enabled", "/storage/default/a.jpg", LoggingConfig{LogStaticFiles: true}, true},
		{"Logs health checks when enabled", "/health", LoggingConfig{LogHealthChecks: true}, true},
		{"Skips health checks when disabled", "/health", LoggingConfig{LogHealthChecks: false}, false},
		{"Skips configured paths", "/metrics", LoggingConfig{SkipPaths: []string{"/metrics"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			tt.config.Output = &out

			handler := Logger(tt.config)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte("ok"))
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path+"?page=2", http.NoBody)
			req.Header.Set("User-Agent", "imagectl/1.0 (linux)")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusCreated {
				t.Errorf("Expected status 201, got %d", w.Code)
			}

			logged := out.String()
			if tt.expectLogging != (logged != "") {
				t.Fatalf("logged = %q, expectLogging = %v", logged, tt.expectLogging)
			}
			if !tt.expectLogging {
				return
			}
			if !strings.Contains(logged, "#Software: ImageVault/1.0") || !strings.Contains(logged, "#Fields: ") {
				t.Errorf("missing directives in %q", logged)
			}
			if !strings.Contains(logged, " GET "+tt.path+" page=2 201 2 ") {
				t.Errorf("unexpected line: %q", logged)
			}
			if !strings.Contains(logged, `"imagectl/1.0 (linux)"`) {
				t.Errorf("user agent not quoted: %q", logged)
			}
		})
	}
}

func TestLoggerDirectivesWrittenOnce(t *testing.T) {
	var out bytes.Buffer
	handler := Logger(LoggingConfig{Output: &out})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/images", http.NoBody))
	}

	if n := strings.Count(out.String(), "#Fields:"); n != 1 {
		t.Errorf("#Fields written %d times, want 1", n)
	}
	if n := strings.Count(out.String(), "/images"); n != 3 {
		t.Errorf("request lines = %d, want 3", n)
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"line1\nline2", "line1 line2"},
		{"a\r\nb", "a  b"},
		{"null\x00byte", "nullbyte"},
		{"\x1b[31mred", "[31mred"},
		{"tab\tkept", "tab\tkept"},
		{"bell\x07", "bell"},
	}
	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.1.1.1:5", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.9"}, "1.1.1.1:5", "10.0.0.9"},
		{"remote addr", nil, "192.168.1.4:5555", "192.168.1.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEscapeW3CField(t *testing.T) {
	if got := escapeW3CField("curl/8.0"); got != "curl/8.0" {
		t.Errorf("got %q", got)
	}
	if got := escapeW3CField(`say "hi"`); got != `"say ""hi"""` {
		t.Errorf("got %q", got)
	}
}

// =============================================================================
// Compression Middleware Tests
// =============================================================================

func TestDefaultCompressionConfig(t *testing.T) {
	config := DefaultCompressionConfig()

	if config.MinSize != 1024 {
		t.Errorf("Expected MinSize to be 1024, got %d", config.MinSize)
	}
	if config.Level != gzip.DefaultCompression {
		t.Errorf("Expected Level to be DefaultCompression, got %d", config.Level)
	}
	c := newCompressor(config)
	if !c.compressible("application/json; charset=utf-8") {
		t.Error("JSON should be compressible")
	}
	if c.compressible("image/jpeg") {
		t.Error("JPEG should not be compressible")
	}
}

func TestCompressionMiddleware(t *testing.T) {
	tests := []struct {
		name              string
		responseBody      string
		contentType       string
		acceptEncoding    string
		rangeHeader       string
		expectCompression bool
	}{
		{"Compresses large JSON", strings.Repeat(`{"key":"value"}`, 200), "application/json", "gzip", "", true},
		{"Doesn't compress small responses", `{"success":true}`, "application/json", "gzip", "", false},
		{"Doesn't compress images", strings.Repeat("data", 500), "image/jpeg", "gzip", "", false},
		{"Respects client without gzip support", strings.Repeat("data", 500), "application/json", "", "", false},
		{"Leaves range requests alone", strings.Repeat("data", 500), "text/plain", "gzip", "bytes=0-10", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(tt.responseBody))
			}))

			req := httptest.NewRequest(http.MethodGet, "/images", http.NoBody)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			if tt.rangeHeader != "" {
				req.Header.Set("Range", tt.rangeHeader)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}

			isCompressed := w.Header().Get("Content-Encoding") == "gzip"
			if isCompressed != tt.expectCompression {
				t.Fatalf("Expected compression=%v, got %v", tt.expectCompression, isCompressed)
			}

			body := w.Body.Bytes()
			if tt.expectCompression {
				gr, err := gzip.NewReader(w.Body)
				if err != nil {
					t.Fatalf("Failed to create gzip reader: %v", err)
				}
				defer gr.Close()
				if body, err = io.ReadAll(gr); err != nil {
					t.Fatalf("Failed to decompress: %v", err)
				}
			}
			if string(body) != tt.responseBody {
				t.Error("Body does not match the handler output")
			}
		})
	}
}

func TestCompressionPreservesStatus(t *testing.T) {
	handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		for i := 0; i < 100; i++ {
			w.Write([]byte(`{"success":false},`))
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/images", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Error("expected compressed body after several small writes")
	}
}

func TestGzipResponseWriterBuffering(t *testing.T) {
	w := httptest.NewRecorder()
	grw := newGzipResponseWriter(w, newCompressor(DefaultCompressionConfig()))

	smallData := []byte("small")
	if n, err := grw.Write(smallData); err != nil || n != len(smallData) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if !bytes.Equal(grw.buffer, smallData) {
		t.Error("small writes should stay buffered")
	}
	if w.Body.Len() != 0 {
		t.Error("nothing should reach the client before the decision")
	}

	if err := grw.Close(); err != nil {
		t.Fatal(err)
	}
	if w.Body.String() != "small" {
		t.Errorf("body = %q after Close", w.Body.String())
	}
}

// =============================================================================
// Recover Middleware Tests
// =============================================================================

func TestRecover(t *testing.T) {
	handler := Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images", http.NoBody))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":"INTERNAL_ERROR"`) {
		t.Errorf("body = %q", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("panic value leaked to the client")
	}
}

func TestRecover_AbortHandlerPropagates(t *testing.T) {
	handler := Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}

// =============================================================================
// Metrics Middleware Tests
// =============================================================================

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/images", "/images"},
		{"/images/", "/images"},
		{"/images/0f8c", "/images/{id}"},
		{"/images/0f8c/meta", "/images/{id}/meta"},
		{"/images/0f8c/exif", "/images/{id}/exif"},
		{"/images/0f8c/crop", "/images/{id}/crop"},
		{"/images/0f8c/unknown", "/{other}"},
		{"/storage/default/a.jpg", "/storage/{folder}/{file}"},
		{"/storage/default/thumbnails/thumb_a.webp", "/storage/{folder}/thumbnails/{file}"},
		{"/storage/default/x/y", "/{other}"},
		{"/health", "/health"},
		{"/version", "/version"},
		{"/", "/{other}"},
		{"/random/path", "/{other}"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddlewareStatusCode(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusConflict, http.StatusInternalServerError} {
		handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/images", http.NoBody))
		if w.Code != status {
			t.Errorf("status = %d, want %d", w.Code, status)
		}
	}
}

func TestMetricsResponseWriterCapturesFirstStatus(t *testing.T) {
	rw := newMetricsResponseWriter(httptest.NewRecorder())
	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusOK)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d, want 404", rw.statusCode)
	}
}

func TestMetricsMiddlewareSkipPaths(t *testing.T) {
	called := false
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if !called {
		t.Error("skipped path must still reach the handler")
	}
}

func BenchmarkLoggingMiddleware(b *testing.B) {
	handler := Logger(LoggingConfig{Output: io.Discard})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))
	req := httptest.NewRequest(http.MethodGet, "/images", http.NoBody)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
