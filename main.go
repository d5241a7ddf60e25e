package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/handlers"
	"image-vault/internal/ingest"
	"image-vault/internal/logging"
	"image-vault/internal/media"
	"image-vault/internal/memory"
	"image-vault/internal/metrics"
	"image-vault/internal/middleware"
	"image-vault/internal/startup"
	"image-vault/internal/vips"
)

// metricsInterval is how often catalog gauges are refreshed.
const metricsInterval = time.Minute

func main() {
	startTime := time.Now()

	startup.LogMemoryConfig(memory.ConfigureFromEnv())

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	layout, err := filesystem.NewLayout(config.StorageDir, config.StagingDir)
	if err != nil {
		startup.LogFatal("Invalid storage layout: %v", err)
	}
	if err := layout.EnsureDirs(); err != nil {
		startup.LogFatal("Failed to prepare storage: %v", err)
	}
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"storage":  layout.Root,
		"staging":  layout.StagingDir,
		"database": config.DatabaseDir,
	}))

	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	metrics.InitializeMetrics()
	build := startup.GetBuildInfo()
	metrics.AppInfo.WithLabelValues(build.Version, build.Commit, runtime.Version()).Set(1)
	collector := metrics.NewCollector(db, metricsInterval)
	collector.Start()

	encoder, vipsErr := thumbnailEncoder()
	startup.LogImagingInit(encoder.Name(), vipsErr)

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()

	svc := ingest.NewService(db, layout, media.NewThumbnailGenerator(config.ThumbnailSize, encoder))
	svc.SetGate(monitor)
	svc.SetDecodeLimit(config.DecodeWorkers)

	h := handlers.New(svc, db, layout, config)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           buildHandler(router, config),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort, h.MetricsHandler())
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go handleShutdown(srv, metricsSrv, collector, monitor, done)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

// thumbnailEncoder prefers libvips WebP and falls back to JPEG through
// imaging when libvips cannot start.
func thumbnailEncoder() (media.Encoder, error) {
	if err := vips.Init(); err != nil {
		return media.JPEGEncoder{Quality: media.DefaultQuality}, err
	}
	return vips.WebPEncoder{Quality: media.DefaultQuality}, nil
}

// buildHandler wraps the router with the middleware chain, outermost first:
// panic recovery, access log, metrics, compression.
func buildHandler(router http.Handler, config *startup.Config) http.Handler {
	compressed := middleware.Compression(middleware.DefaultCompressionConfig())(router)
	measured := middleware.Metrics(middleware.DefaultMetricsConfig())(compressed)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	logged := middleware.Logger(loggingConfig)(measured)

	return middleware.Recover()(logged)
}

func newMetricsServer(port string, handler http.Handler) *http.Server {
	m := http.NewServeMux()
	m.Handle("/metrics", handler)
	return &http.Server{
		Addr:              ":" + port,
		Handler:           m,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func handleShutdown(srv, metricsSrv *http.Server, collector *metrics.Collector, monitor *memory.Monitor, done chan<- struct{}) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Stopping background workers")
	collector.Stop()
	monitor.Stop()
	startup.LogShutdownStepComplete("Background workers stopped")

	startup.LogShutdownStep("Shutting down libvips")
	vips.Shutdown()
	startup.LogShutdownStepComplete("libvips stopped")

	startup.LogShutdownComplete()
}
