package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lukehanabi/audio-to-doc/internal/metrics"
)

var (
	// ErrUnsupportedFormat is returned for extensions outside the accepted set.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrDecode is returned when a container cannot be decoded into PCM.
	ErrDecode = errors.New("audio decode failed")
)

// UnsupportedFormatError names the rejected extension.
type UnsupportedFormatError struct {
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format: %s", e.Extension)
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// Asset is an uploaded audio file awaiting normalization.
type Asset struct {
	Path      string
	Filename  string
	Extension string
	Size      int64
}

// Format returns the lowercased extension without the dot, falling back to the
// filename when Extension is unset.
func (a Asset) Format() string {
	ext := a.Extension
	if ext == "" {
		ext = filepath.Ext(a.Filename)
		if ext == "" {
			ext = filepath.Ext(a.Path)
		}
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizedAudio is canonical mono 16-bit PCM backed by a temporary WAV file.
type NormalizedAudio struct {
	Path       string
	PCM        []byte
	SampleRate int
	Channels   int
	BitDepth   int
}

// NewNormalizedAudio wraps in-memory PCM-16 bytes without a backing file.
func NewNormalizedAudio(pcm []byte, sampleRate int) *NormalizedAudio {
	return &NormalizedAudio{PCM: pcm, SampleRate: sampleRate, Channels: 1, BitDepth: 16}
}

// Duration returns the audio length in seconds.
func (n *NormalizedAudio) Duration() float64 {
	if n.SampleRate <= 0 {
		return 0
	}
	return float64(len(n.PCM)/2) / float64(n.SampleRate)
}

// Samples decodes the PCM payload into 16-bit samples.
func (n *NormalizedAudio) Samples() []int16 {
	return bytesToSamples(n.PCM)
}

// Chunks splits the PCM payload into fixed-size chunks.
func (n *NormalizedAudio) Chunks(size int) []Chunk {
	return Split(n.PCM, size)
}

// Slice returns the in-memory audio between start and end seconds.
func (n *NormalizedAudio) Slice(start, end float64) *NormalizedAudio {
	total := len(n.PCM) / 2
	from := clampIndex(int(start*float64(n.SampleRate)), total)
	to := clampIndex(int(end*float64(n.SampleRate)), total)
	if to < from {
		to = from
	}
	return NewNormalizedAudio(n.PCM[from*2:to*2], n.SampleRate)
}

// Close removes the backing file, if any.
func (n *NormalizedAudio) Close() error {
	if n == nil || n.Path == "" {
		return nil
	}
	err := os.Remove(n.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func clampIndex(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

// NormalizerConfig contains normalizer parameters
type NormalizerConfig struct {
	Formats    []string
	TempDir    string
	FFmpegPath string
}

// Normalizer converts supported containers into canonical WAV files.
type Normalizer struct {
	codecs  map[string]Codec
	formats []string
	tempDir string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewNormalizer registers a codec for every configured format.
func NewNormalizer(cfg NormalizerConfig, logger *slog.Logger, m *metrics.Metrics) *Normalizer {
	ffmpeg := FFmpegCodec{Path: cfg.FFmpegPath, TempDir: cfg.TempDir}
	all := map[string]Codec{
		"wav":  WAVCodec{},
		"mp3":  MP3Codec{},
		"flac": FLACCodec{},
		"ogg":  OGGCodec{},
		"aac":  ffmpeg,
		"m4a":  ffmpeg,
		"wma":  ffmpeg,
		"mp4":  ffmpeg,
		"webm": ffmpeg,
	}

	n := &Normalizer{
		codecs:  make(map[string]Codec, len(cfg.Formats)),
		tempDir: cfg.TempDir,
		logger:  logger.With("component", "normalizer"),
		metrics: m,
	}
	for _, f := range cfg.Formats {
		if c, ok := all[f]; ok {
			n.codecs[f] = c
			n.formats = append(n.formats, f)
		}
	}

	return n
}

// Register installs or replaces the codec for a format.
func (n *Normalizer) Register(format string, codec Codec) {
	if _, ok := n.codecs[format]; !ok {
		n.formats = append(n.formats, format)
	}
	n.codecs[format] = codec
}

// Formats returns the accepted extensions in registration order.
func (n *Normalizer) Formats() []string {
	return append([]string(nil), n.formats...)
}

// Supports reports whether an extension can be normalized.
func (n *Normalizer) Supports(format string) bool {
	_, ok := n.codecs[strings.ToLower(format)]
	return ok
}

// Normalize decodes the asset and writes a canonical mono 16-bit WAV file.
// Nothing is left on disk when an error is returned.
func (n *Normalizer) Normalize(ctx context.Context, asset Asset) (*NormalizedAudio, error) {
	format := asset.Format()
	start := time.Now()

	out, err := n.normalize(ctx, format, asset.Path)

	outcome := "success"
	if err != nil {
		outcome = "error"
		n.logger.Warn("Normalization failed",
			slog.String("file", asset.Filename),
			slog.String("format", format),
			slog.String("error", err.Error()),
		)
	} else {
		n.logger.Debug("Audio normalized",
			slog.String("file", asset.Filename),
			slog.String("format", format),
			slog.Int("sample_rate", out.SampleRate),
			slog.Float64("duration_seconds", out.Duration()),
		)
	}
	n.metrics.RecordNormalization(format, outcome, time.Since(start).Seconds())

	return out, err
}

func (n *Normalizer) normalize(ctx context.Context, format, path string) (*NormalizedAudio, error) {
	codec, ok := n.codecs[format]
	if !ok {
		return nil, &UnsupportedFormatError{Extension: format}
	}

	pcm, err := codec.Decode(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}

	if len(pcm.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s: no audio samples", ErrDecode, format)
	}

	data, err := EncodeWAV(pcm.Samples, pcm.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}

	f, err := os.CreateTemp(n.tempDir, "normalized-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create normalized file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write normalized file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write normalized file: %w", err)
	}

	return &NormalizedAudio{
		Path:       f.Name(),
		PCM:        data[wavHeaderSize:],
		SampleRate: pcm.SampleRate,
		Channels:   1,
		BitDepth:   16,
	}, nil
}
