package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Locale codes with a bundled acoustic model.
const (
	LocaleEnglish = "en-US"
	LocaleSpanish = "es-ES"
)

// Config represents the complete service configuration
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Audio       AudioConfig       `yaml:"audio"`
	Models      ModelsConfig      `yaml:"models"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Report      ReportConfig      `yaml:"report"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	MaxUploadMB  int    `yaml:"max_upload_mb"`
}

// AudioConfig contains normalization parameters
type AudioConfig struct {
	Formats    []string `yaml:"formats"`
	UploadDir  string   `yaml:"upload_dir"`
	TempDir    string   `yaml:"temp_dir"`
	FFmpegPath string   `yaml:"ffmpeg_path"`
}

// ModelsConfig maps locale codes to acoustic model directories
type ModelsConfig struct {
	Engine  string            `yaml:"engine"` // "vosk" or "stub"
	Paths   map[string]string `yaml:"paths"`
	Preload []string          `yaml:"preload"`
}

// RecognitionConfig contains streaming recognizer parameters
type RecognitionConfig struct {
	ChunkSize           int     `yaml:"chunk_size"`            // bytes
	CancelCheckInterval int     `yaml:"cancel_check_interval"` // chunks
	SilenceGate         bool    `yaml:"silence_gate"`
	SilenceThreshold    float32 `yaml:"silence_threshold"`
	WindowSize          int     `yaml:"window_size"` // samples
}

// PipelineConfig bounds concurrent pipelines and job retention
type PipelineConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	JobRetention  int `yaml:"job_retention"` // seconds
}

// ReportConfig contains report rendering parameters
type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SupportedFormats is the fixed set of accepted upload extensions, in display order.
var SupportedFormats = []string{"mp3", "wav", "aac", "m4a", "ogg", "flac", "wma", "mp4", "webm"}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         5000,
			Address:      "0.0.0.0",
			ReadTimeout:  60,
			WriteTimeout: 300,
			MaxUploadMB:  25,
		},
		Audio: AudioConfig{
			Formats:    append([]string(nil), SupportedFormats...),
			UploadDir:  "uploads",
			TempDir:    os.TempDir(),
			FFmpegPath: "ffmpeg",
		},
		Models: ModelsConfig{
			Engine: "vosk",
			Paths: map[string]string{
				LocaleSpanish: "/app/models/vosk-model-small-es-0.42",
				LocaleEnglish: "/app/models/vosk-model-small-en-us-0.15",
			},
		},
		Recognition: RecognitionConfig{
			ChunkSize:           8000,
			CancelCheckInterval: 10,
			SilenceGate:         false,
			SilenceThreshold:    0.01,
			WindowSize:          512,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent: 2,
			JobRetention:  600,
		},
		Report: ReportConfig{
			OutputDir: "uploads",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of Default,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config env override failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides selected values from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.HTTP.Port = port
	}

	// MAX_CONTENT_LENGTH is expressed in bytes.
	if v, ok := lookup("MAX_CONTENT_LENGTH"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_CONTENT_LENGTH: %w", err)
		}
		c.HTTP.MaxUploadMB = int(n / (1024 * 1024))
	}

	if v, ok := lookup("UPLOAD_FOLDER"); ok && v != "" {
		c.Audio.UploadDir = v
	}
	if v, ok := lookup("REPORT_FOLDER"); ok && v != "" {
		c.Report.OutputDir = v
	}
	if v, ok := lookup("FFMPEG_PATH"); ok && v != "" {
		c.Audio.FFmpegPath = v
	}
	if v, ok := lookup("MODEL_PATH_EN_US"); ok && v != "" {
		c.setModelPath(LocaleEnglish, v)
	}
	if v, ok := lookup("MODEL_PATH_ES_ES"); ok && v != "" {
		c.setModelPath(LocaleSpanish, v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}

func (c *Config) setModelPath(locale, path string) {
	if c.Models.Paths == nil {
		c.Models.Paths = make(map[string]string)
	}
	c.Models.Paths[locale] = path
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("models config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", h.ReadTimeout)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if len(a.Formats) == 0 {
		return fmt.Errorf("formats cannot be empty")
	}

	known := make(map[string]bool, len(SupportedFormats))
	for _, f := range SupportedFormats {
		known[f] = true
	}
	for _, f := range a.Formats {
		if !known[f] {
			return fmt.Errorf("format %q is not one of %s", f, strings.Join(SupportedFormats, ", "))
		}
	}

	if a.UploadDir == "" {
		return fmt.Errorf("upload_dir cannot be empty")
	}

	if a.TempDir == "" {
		return fmt.Errorf("temp_dir cannot be empty")
	}

	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	return nil
}

// Validate validates model configuration
func (m *ModelsConfig) Validate() error {
	validEngines := map[string]bool{"vosk": true, "stub": true}
	if !validEngines[m.Engine] {
		return fmt.Errorf("engine must be 'vosk' or 'stub', got '%s'", m.Engine)
	}

	for _, locale := range []string{LocaleEnglish, LocaleSpanish} {
		if m.Paths[locale] == "" {
			return fmt.Errorf("model path for %s cannot be empty", locale)
		}
	}

	for _, locale := range m.Preload {
		if _, ok := m.Paths[locale]; !ok {
			return fmt.Errorf("preload locale %s has no model path", locale)
		}
	}

	return nil
}

// Validate validates recognizer configuration
func (r *RecognitionConfig) Validate() error {
	if r.ChunkSize < 2 || r.ChunkSize%2 != 0 {
		return fmt.Errorf("chunk_size must be a positive even number of bytes, got %d", r.ChunkSize)
	}

	if r.CancelCheckInterval < 1 {
		return fmt.Errorf("cancel_check_interval must be at least 1 chunk, got %d", r.CancelCheckInterval)
	}

	if r.SilenceThreshold < 0 || r.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", r.SilenceThreshold)
	}

	if r.WindowSize < 64 || r.WindowSize > 8192 {
		return fmt.Errorf("window_size must be between 64 and 8192 samples, got %d", r.WindowSize)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", p.MaxConcurrent)
	}

	if p.JobRetention < 1 {
		return fmt.Errorf("job_retention must be at least 1 second, got %d", p.JobRetention)
	}

	return nil
}

// Validate validates report configuration
func (r *ReportConfig) Validate() error {
	if r.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// MaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) MaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) * 1024 * 1024
}

// GetJobRetention returns the finished-job retention as a time.Duration
func (p *PipelineConfig) GetJobRetention() time.Duration {
	return time.Duration(p.JobRetention) * time.Second
}
