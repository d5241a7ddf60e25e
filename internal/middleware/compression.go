package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

// CompressionConfig holds configuration for the compression middleware
type CompressionConfig struct {
	// MinSize is the minimum response size in bytes before compression is applied
	MinSize int
	// Level is the gzip compression level (gzip.BestSpeed to gzip.BestCompression)
	Level int
	// CompressibleTypes lists the media types that are compressed. Image bytes
	// are already compressed and never appear here.
	CompressibleTypes []string
}

// DefaultCompressionConfig compresses JSON envelopes and plain-text
// responses such as Prometheus output.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize: 1024,
		Level:   gzip.DefaultCompression,
		CompressibleTypes: []string{
			"application/json",
			"application/problem+json",
			"text/plain",
		},
	}
}

type compressor struct {
	config CompressionConfig
	types  map[string]bool
	pool   sync.Pool
}

func newCompressor(config CompressionConfig) *compressor {
	level := config.Level
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	c := &compressor{
		config: config,
		types:  make(map[string]bool, len(config.CompressibleTypes)),
	}
	for _, t := range config.CompressibleTypes {
		c.types[strings.ToLower(t)] = true
	}
	c.pool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, level)
		return w
	}
	return c
}

func (c *compressor) compressible(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return c.types[strings.ToLower(strings.TrimSpace(mediaType))]
}

// gzipResponseWriter buffers up to MinSize bytes, then decides once whether
// the response is compressed.
type gzipResponseWriter struct {
	http.ResponseWriter
	c          *compressor
	gz         *gzip.Writer
	buffer     []byte
	statusCode int
	decided    bool
}

func newGzipResponseWriter(w http.ResponseWriter, c *compressor) *gzipResponseWriter {
	return &gzipResponseWriter{
		ResponseWriter: w,
		c:              c,
		statusCode:     http.StatusOK,
		buffer:         make([]byte, 0, c.config.MinSize+1),
	}
}

func (g *gzipResponseWriter) WriteHeader(statusCode int) {
	if g.decided {
		return
	}
	g.statusCode = statusCode
}

func (g *gzipResponseWriter) Write(data []byte) (int, error) {
	if g.decided {
		if g.gz != nil {
			return g.gz.Write(data)
		}
		return g.ResponseWriter.Write(data)
	}

	g.buffer = append(g.buffer, data...)
	if len(g.buffer) > g.c.config.MinSize {
		if err := g.decide(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (g *gzipResponseWriter) decide() error {
	if g.decided {
		return nil
	}
	g.decided = true

	h := g.Header()
	compress := len(g.buffer) >= g.c.config.MinSize &&
		h.Get("Content-Encoding") == "" &&
		g.statusCode != http.StatusPartialContent &&
		g.c.compressible(h.Get("Content-Type"))

	buf := g.buffer
	g.buffer = nil

	if !compress {
		g.ResponseWriter.WriteHeader(g.statusCode)
		_, err := g.ResponseWriter.Write(buf)
		return err
	}

	h.Del("Content-Length")
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")

	g.gz = g.c.pool.Get().(*gzip.Writer)
	g.gz.Reset(g.ResponseWriter)
	g.ResponseWriter.WriteHeader(g.statusCode)
	_, err := g.gz.Write(buf)
	return err
}

// Close flushes anything buffered and returns the gzip writer to the pool.
func (g *gzipResponseWriter) Close() error {
	err := g.decide()
	if g.gz != nil {
		if closeErr := g.gz.Close(); err == nil {
			err = closeErr
		}
		g.c.pool.Put(g.gz)
		g.gz = nil
	}
	return err
}

// Flush implements http.Flusher
func (g *gzipResponseWriter) Flush() {
	_ = g.decide()
	if g.gz != nil {
		_ = g.gz.Flush()
	}
	if flusher, ok := g.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Compression gzips compressible responses for clients that accept it.
// Range requests pass through untouched so byte offsets stay valid.
func Compression(config CompressionConfig) func(http.Handler) http.Handler {
	c := newCompressor(config)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
				r.Header.Get("Range") != "" ||
				r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			gzw := newGzipResponseWriter(w, c)
			defer gzw.Close()

			next.ServeHTTP(gzw, r)
		})
	}
}
