package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lukehanabi/audio-to-doc/internal/audio"
	"github.com/lukehanabi/audio-to-doc/internal/config"
	"github.com/lukehanabi/audio-to-doc/internal/metrics"
	"github.com/lukehanabi/audio-to-doc/internal/models"
	"github.com/lukehanabi/audio-to-doc/internal/pipeline"
	"github.com/lukehanabi/audio-to-doc/internal/recognizer"
	"github.com/lukehanabi/audio-to-doc/internal/report"
	"github.com/lukehanabi/audio-to-doc/internal/server"
	"github.com/lukehanabi/audio-to-doc/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audio-to-doc"
	serviceVersion    = "1.0.0"

	// gateSampleRate is the nominal rate the silence gate sizes windows for.
	gateSampleRate = 16000
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// A missing .env is normal outside development.
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
		slog.Bool("dotenv_loaded", envErr == nil),
	)

	logger.Info("Configuration loaded",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.Int("max_upload_mb", cfg.HTTP.MaxUploadMB),
		slog.String("model_engine", cfg.Models.Engine),
		slog.Int("chunk_size", cfg.Recognition.ChunkSize),
		slog.Bool("silence_gate", cfg.Recognition.SilenceGate),
		slog.Int("max_concurrent", cfg.Pipeline.MaxConcurrent),
		slog.String("log_level", cfg.Logging.Level),
	)

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	for _, dir := range []string{cfg.Audio.UploadDir, cfg.Audio.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("Failed to create directory", slog.String("dir", dir), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	normalizer := audio.NewNormalizer(audio.NormalizerConfig{
		Formats:    cfg.Audio.Formats,
		TempDir:    cfg.Audio.TempDir,
		FFmpegPath: cfg.Audio.FFmpegPath,
	}, logger, appMetrics)

	cacheConfig := models.CacheConfig{
		Paths:       cfg.Models.Paths,
		Load:        recognizer.LoadVoskModel,
		VerifyPaths: true,
	}
	if cfg.Models.Engine == "stub" {
		cacheConfig.Load = recognizer.LoadStubModel
		cacheConfig.VerifyPaths = false
	} else if !recognizer.NativeAvailable {
		logger.Warn("Binary built without the vosk tag; model loads will fail",
			slog.String("hint", "rebuild with -tags vosk or set models.engine: stub"),
		)
	}
	cache := models.NewCache(cacheConfig, logger, appMetrics)

	engineConfig := recognizer.EngineConfig{
		ChunkSize:           cfg.Recognition.ChunkSize,
		CancelCheckInterval: cfg.Recognition.CancelCheckInterval,
	}
	if cfg.Recognition.SilenceGate {
		gate, err := vad.NewProcessor(cfg.Recognition.SilenceThreshold, cfg.Recognition.WindowSize, gateSampleRate)
		if err != nil {
			logger.Error("Failed to create silence gate", slog.String("error", err.Error()))
			os.Exit(1)
		}
		engineConfig.SilenceGate = gate
	}
	engine := recognizer.NewEngine(engineConfig, logger, appMetrics)

	renderer := report.DocxRenderer{TempDir: cfg.Audio.TempDir}
	reports, err := report.NewGenerator(report.GeneratorConfig{OutputDir: cfg.Report.OutputDir}, renderer, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create report generator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pipelineMgr, err := pipeline.NewManager(pipeline.ManagerConfig{
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		JobRetention:  cfg.Pipeline.GetJobRetention(),
	}, pipeline.Dependencies{
		Normalizer: normalizer,
		Models:     cache,
		Engine:     engine,
		Reports:    reports,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create pipeline manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline manager initialized",
		slog.Int("max_concurrent", cfg.Pipeline.MaxConcurrent),
		slog.Duration("job_retention", cfg.Pipeline.GetJobRetention()),
	)

	if len(cfg.Models.Preload) > 0 {
		preloadCtx, preloadCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := cache.Preload(preloadCtx, cfg.Models.Preload...); err != nil {
			logger.Warn("Model preload incomplete", slog.String("error", err.Error()))
		}
		preloadCancel()
	}

	httpServer := server.NewHTTPServer(cfg, server.Dependencies{
		Pipeline: pipelineMgr,
		Models:   cache,
		Engine:   engine,
	}, logger, appMetrics)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetWriteTimeout()+10*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new uploads)
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Drain in-flight pipelines
	if err := pipelineMgr.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping pipeline manager", slog.String("error", err.Error()))
	}

	// Release native models last
	if err := cache.Close(); err != nil {
		logger.Error("Error closing models", slog.String("error", err.Error()))
	}

	stats := pipelineMgr.GetStats()
	engineStats := engine.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("processed", stats.Processed),
		slog.Uint64("succeeded", stats.Succeeded),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("cancelled", stats.Cancelled),
		slog.Uint64("chunks_fed", engineStats.ChunksFed),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
