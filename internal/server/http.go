package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lukehanabi/audio-to-doc/internal/audio"
	"github.com/lukehanabi/audio-to-doc/internal/config"
	"github.com/lukehanabi/audio-to-doc/internal/metrics"
	"github.com/lukehanabi/audio-to-doc/internal/models"
	"github.com/lukehanabi/audio-to-doc/internal/pipeline"
	"github.com/lukehanabi/audio-to-doc/internal/recognizer"
	"github.com/lukehanabi/audio-to-doc/internal/transcription"
)

const (
	serviceName    = "audio-to-text-converter"
	serviceVersion = "1.0.0"

	uploadField   = "audio_file"
	languageField = "language"

	// multipartSlack leaves room for multipart headers above the file limit.
	multipartSlack = 1 << 20

	errInternal = "Internal server error"
)

// Dependencies are the components the HTTP API serves from.
type Dependencies struct {
	Pipeline *pipeline.Manager
	Models   *models.Cache
	Engine   *recognizer.Engine
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// HTTPServer serves the conversion API plus monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	router  *gin.Engine
	logger  *slog.Logger
	config  *config.Config
	deps    Dependencies
	metrics *metrics.Metrics

	formats   []string
	maxUpload int64
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.Config, deps Dependencies, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger.With("component", "http"),
		config:    cfg,
		deps:      deps,
		metrics:   m,
		formats:   cfg.Audio.Formats,
		maxUpload: cfg.HTTP.MaxUploadBytes(),
		startTime: time.Now(),
	}

	h.router = gin.New()
	h.router.MaxMultipartMemory = 8 << 20
	h.router.Use(h.requestLogger(), h.withMetrics(), h.recovery())
	h.setupRoutes(h.router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      h.router,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/convert", h.handleConvert)
	api.GET("/formats", h.handleFormats)
	api.GET("/health", h.handleHealth)
	api.GET("/test-offline", h.handleTestOffline)

	// Monitoring
	api.GET("/jobs", h.handleJobs)
	api.GET("/jobs/:id", h.handleJobDetail)
	api.GET("/stats", h.handleStats)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/", h.handleRoot)
}

// recovery maps panics to the generic 500 body.
func (h *HTTPServer) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		h.logger.Error("Panic while handling request",
			slog.String("path", c.Request.URL.Path),
			slog.Any("panic", recovered),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errInternal})
	})
}

// requestLogger logs each request through slog.
func (h *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.logger.Log(c.Request.Context(), level, "HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}

// withMetrics records request counts, durations and errors per route.
func (h *HTTPServer) withMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()

		h.metrics.RecordHTTPRequest(c.Request.Method, endpoint, fmt.Sprintf("%d", status), time.Since(start).Seconds())
		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(c.Request.Method, endpoint, errorType)
		}
	}
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (h *HTTPServer) tooLarge() string {
	return fmt.Sprintf("File too large. Maximum size is %dMB. Please use a smaller audio file.", h.config.HTTP.MaxUploadMB)
}

// handleConvert implements POST /api/convert
func (h *HTTPServer) handleConvert(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartSlack)

	file, err := c.FormFile(uploadField)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr), c.Request.ContentLength > h.maxUpload+multipartSlack:
			h.badRequest(c, h.tooLarge())
		case c.Request.MultipartForm != nil && c.Request.MultipartForm.Value[uploadField] != nil:
			// A part with an empty filename is parsed as a plain value.
			h.badRequest(c, "No file selected")
		default:
			h.badRequest(c, "No audio file provided")
		}
		return
	}

	filename := filepath.Base(strings.ReplaceAll(file.Filename, `\`, "/"))
	if filename == "" || filename == "." || filename == "/" {
		h.badRequest(c, "No file selected")
		return
	}

	if file.Size > h.maxUpload {
		h.badRequest(c, h.tooLarge())
		return
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !h.supports(ext) {
		h.badRequest(c, fmt.Sprintf("Unsupported file format: %s. Supported formats: %s", ext, strings.Join(h.formats, ", ")))
		return
	}

	language := c.DefaultPostForm(languageField, string(transcription.Auto))

	uploadPath := filepath.Join(h.config.Audio.UploadDir, uuid.NewString()+"."+ext)
	if err := c.SaveUploadedFile(file, uploadPath); err != nil {
		h.logger.Error("Failed to save upload",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
		return
	}
	defer func() {
		if err := os.Remove(uploadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("Failed to remove upload",
				slog.String("path", uploadPath),
				slog.String("error", err.Error()),
			)
		}
	}()

	job, err := h.deps.Pipeline.Process(c.Request.Context(), pipeline.Request{
		Asset: audio.Asset{
			Path:      uploadPath,
			Filename:  filename,
			Extension: ext,
			Size:      file.Size,
		},
		Language: language,
	})
	if err != nil {
		h.logger.Error("Conversion failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
		return
	}

	artifact := job.Artifact()
	defer func() {
		if err := artifact.Remove(); err != nil {
			h.logger.Warn("Failed to remove report",
				slog.String("path", artifact.Path),
				slog.String("error", err.Error()),
			)
		}
	}()

	c.Header("Content-Type", artifact.ContentType)
	c.FileAttachment(artifact.Path, artifact.DownloadName)

	if err := c.Request.Context().Err(); err != nil {
		job.MarkFailed(err)
		return
	}
	if err := job.MarkDelivered(); err != nil {
		h.logger.Warn("Failed to mark job delivered",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *HTTPServer) supports(ext string) bool {
	for _, f := range h.formats {
		if f == ext {
			return true
		}
	}
	return false
}

// handleFormats implements GET /api/formats
func (h *HTTPServer) handleFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"formats":   h.formats,
		"languages": transcription.LanguageNames(),
	})
}

// handleHealth implements GET /api/health
func (h *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":              "healthy",
		"service":             serviceName,
		"supported_formats":   len(h.formats),
		"supported_languages": len(transcription.LanguageNames()),
	})
}

// handleTestOffline implements GET /api/test-offline by recognizing one
// second of silence with the English model.
func (h *HTTPServer) handleTestOffline(c *gin.Context) {
	ctx := c.Request.Context()
	languages := transcription.LanguageNames()

	model, err := h.deps.Models.Get(ctx, config.LocaleEnglish)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":              "error",
			"message":             "Failed to load English model: " + err.Error(),
			"available_languages": languages,
		})
		return
	}

	const sampleRate = 16000
	silence := audio.NewNormalizedAudio(make([]byte, sampleRate*2), sampleRate)

	out, err := h.deps.Engine.Transcribe(ctx, silence, model)
	switch {
	case errors.Is(err, recognizer.ErrNoSpeechDetected):
		c.JSON(http.StatusOK, gin.H{
			"status":              "success",
			"message":             "Offline speech recognition is working",
			"model_loaded":        true,
			"test_result":         "no speech detected in silence",
			"available_languages": languages,
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":              "error",
			"message":             "Recognition error: " + err.Error(),
			"available_languages": languages,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":              "warning",
			"message":             fmt.Sprintf("Speech detected in silence: %q", out.Text),
			"model_loaded":        true,
			"test_result":         out.Text,
			"available_languages": languages,
		})
	}
}

// handleJobs implements GET /api/jobs
func (h *HTTPServer) handleJobs(c *gin.Context) {
	jobs := h.deps.Pipeline.GetAllJobs()
	c.JSON(http.StatusOK, gin.H{
		"total_jobs": len(jobs),
		"timestamp":  time.Now().UTC(),
		"jobs":       jobs,
	})
}

// handleJobDetail implements GET /api/jobs/:id
func (h *HTTPServer) handleJobDetail(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID"})
		return
	}

	job, ok := h.deps.Pipeline.GetJob(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job.Info())
}

// handleStats implements GET /api/stats
func (h *HTTPServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime":      time.Since(h.startTime).String(),
		"timestamp":   time.Now().UTC(),
		"pipeline":    h.deps.Pipeline.GetStats(),
		"recognition": h.deps.Engine.GetStats(),
		"models": gin.H{
			"engine": h.config.Models.Engine,
			"loaded": h.deps.Models.Loaded(),
		},
	})
}

// handleRoot implements GET / with API documentation
func (h *HTTPServer) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "Audio to Text Conversion Service (Offline)",
		"version": serviceVersion,
		"endpoints": gin.H{
			"GET /":                 "API documentation",
			"POST /api/convert":     "Convert an uploaded audio file to a Word transcript",
			"GET /api/formats":      "Supported audio formats and languages",
			"GET /api/health":       "Service health check",
			"GET /api/test-offline": "Check that the offline recognizer loads and runs",
			"GET /api/jobs":         "List retained conversion jobs",
			"GET /api/jobs/:id":     "Get one conversion job",
			"GET /api/stats":        "Service statistics",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
