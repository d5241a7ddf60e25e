// Package vips manages the libvips lifecycle and provides the WebP encoder
// used for thumbnails.
package vips

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"

	"image-vault/internal/logging"
)

// ErrUnavailable is returned by the encoder when libvips is not running.
var ErrUnavailable = errors.New("libvips not available")

var (
	initialized bool
	available   bool
	initMutex   sync.Mutex
)

// Init starts libvips. It is idempotent and must be called before the
// encoder is used. libvips cannot be restarted after Shutdown.
func Init() (err error) {
	initMutex.Lock()
	defer initMutex.Unlock()

	if initialized {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start libvips: %v", r)
		}
	}()

	// Configure vips logging BEFORE Startup() to respect LOG_LEVEL
	level, handler := logSettings(logging.GetLevel())
	vips.LoggingSettings(handler, level)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	initialized = true
	available = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

func logSettings(appLevel logging.LogLevel) (vips.LogLevel, func(string, vips.LogLevel, string)) {
	switch appLevel {
	case logging.LevelDebug:
		return vips.LogLevelInfo, func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			default:
				logging.Debug("[%s] %s", domain, msg)
			}
		}
	case logging.LevelInfo:
		return vips.LogLevelWarning, func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			}
		}
	case logging.LevelWarn:
		return vips.LogLevelError, func(domain string, level vips.LogLevel, msg string) {
			if level >= vips.LogLevelError {
				logging.Error("[%s] %s", domain, msg)
			}
		}
	case logging.LevelError:
		return vips.LogLevelCritical, func(domain string, level vips.LogLevel, msg string) {
			if level >= vips.LogLevelCritical {
				logging.Error("[%s] %s", domain, msg)
			}
		}
	default:
		return vips.LogLevelWarning, func(domain string, level vips.LogLevel, msg string) {
			if level >= vips.LogLevelError {
				logging.Warn("[%s] %s", domain, msg)
			}
		}
	}
}

// Shutdown releases libvips resources.
func Shutdown() {
	initMutex.Lock()
	defer initMutex.Unlock()

	if initialized {
		vips.Shutdown()
		available = false
		logging.Info("libvips shutdown complete")
	}
}

// IsAvailable reports whether libvips is running.
func IsAvailable() bool {
	initMutex.Lock()
	defer initMutex.Unlock()
	return available
}

// WebPEncoder encodes thumbnails as lossy WebP through libvips. It satisfies
// media.Encoder.
type WebPEncoder struct {
	Quality int
}

// Name implements media.Encoder.
func (WebPEncoder) Name() string { return "webp" }

// Ext implements media.Encoder.
func (WebPEncoder) Ext() string { return ".webp" }

// Encode implements media.Encoder.
func (e WebPEncoder) Encode(w io.Writer, img image.Image) error {
	if !IsAvailable() {
		return ErrUnavailable
	}

	// Lossless handoff; the only lossy step is the WebP export.
	var raw bytes.Buffer
	if err := imaging.Encode(&raw, img, imaging.PNG); err != nil {
		return fmt.Errorf("stage pixels: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = e.Quality
	if params.Quality <= 0 {
		params.Quality = 80
	}
	params.StripMetadata = true

	out, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("vips webp export failed: %w", err)
	}

	_, err = w.Write(out)
	return err
}
