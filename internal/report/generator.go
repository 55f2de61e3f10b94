package report

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukehanabi/audio-to-doc/internal/metrics"
	"github.com/lukehanabi/audio-to-doc/internal/transcription"
)

// GeneratorConfig contains report generator parameters
type GeneratorConfig struct {
	OutputDir string
}

// Generator builds reports and writes them to OutputDir.
type Generator struct {
	config   GeneratorConfig
	renderer Renderer
	logger   *slog.Logger
	metrics  *metrics.Metrics

	now func() time.Time
}

// Artifact is a report written to disk. The caller owns it and must call
// Remove once it has been delivered.
type Artifact struct {
	ID           string
	Path         string
	DownloadName string
	ContentType  string
}

// Remove deletes the artifact file. Removing twice is not an error.
func (a *Artifact) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	err := os.Remove(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// NewGenerator creates a report generator, creating OutputDir if needed.
// A nil renderer selects DocxRenderer.
func NewGenerator(config GeneratorConfig, renderer Renderer, logger *slog.Logger, m *metrics.Metrics) (*Generator, error) {
	if config.OutputDir == "" {
		config.OutputDir = os.TempDir()
	}
	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	if renderer == nil {
		renderer = DocxRenderer{}
	}

	return &Generator{
		config:   config,
		renderer: renderer,
		logger:   logger.With("component", "report"),
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Generate renders result into a new file named after a fresh random id.
// Nothing is left on disk when it fails.
func (g *Generator) Generate(result *transcription.Result, meta FileMeta) (*Artifact, error) {
	doc := Build(result, meta, g.now())

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(g.config.OutputDir, "transcription_"+id+g.renderer.Extension())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	if err := g.renderer.Render(f, doc); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	g.metrics.RecordReportGenerated()
	g.logger.Info("Report generated",
		slog.String("report_id", id),
		slog.String("path", path),
		slog.Bool("success", result.Success),
		slog.Int("blocks", len(doc.Blocks)),
	)

	return &Artifact{
		ID:           id,
		Path:         path,
		DownloadName: DownloadName(meta.Filename, g.renderer.Extension()),
		ContentType:  g.renderer.ContentType(),
	}, nil
}

// DownloadName derives the attachment name from the uploaded file name,
// e.g. "meeting.mp3" becomes "meeting_transcription.docx".
func DownloadName(original, ext string) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "audio"
	}
	return base + "_transcription" + ext
}
