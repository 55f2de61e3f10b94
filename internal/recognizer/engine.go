package recognizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lukehanabi/audio-to-doc/internal/audio"
	"github.com/lukehanabi/audio-to-doc/internal/metrics"
	"github.com/lukehanabi/audio-to-doc/internal/vad"
)

// EngineConfig contains streaming recognizer parameters
type EngineConfig struct {
	ChunkSize           int // bytes per Feed call
	CancelCheckInterval int // chunks between context checks
	// SilenceGate, when set, rejects audio with no voiced window before decoding.
	SilenceGate *vad.Processor
}

// Engine drives a Decoder over normalized audio in fixed-size chunks.
type Engine struct {
	config  EngineConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	transcriptions atomic.Uint64
	chunks         atomic.Uint64
	utterances     atomic.Uint64
	silenceRejects atomic.Uint64
}

// Output is the ordered result of one transcription pass.
type Output struct {
	Fragments  []string
	Words      []WordTimestamp
	Text       string
	Chunks     int
	Utterances int
	Duration   float64
}

// EngineStats represents engine statistics
type EngineStats struct {
	Transcriptions uint64 `json:"transcriptions"`
	ChunksFed      uint64 `json:"chunks_fed"`
	Utterances     uint64 `json:"utterances"`
	SilenceRejects uint64 `json:"silence_rejects"`
	ChunkSize      int    `json:"chunk_size"`

	// Gate is nil when no silence gate is configured.
	Gate *vad.ProcessorStats `json:"gate,omitempty"`
}

// NewEngine creates a recognition engine
func NewEngine(config EngineConfig, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if config.ChunkSize <= 0 {
		config.ChunkSize = audio.DefaultChunkSize
	}
	if config.CancelCheckInterval <= 0 {
		config.CancelCheckInterval = 10
	}

	return &Engine{
		config:  config,
		logger:  logger.With("component", "recognizer"),
		metrics: m,
	}
}

// Transcribe feeds every chunk of pcm to a fresh decoder from model and collects
// hypotheses in chunk order. Empty output fails with ErrNoSpeechDetected.
func (e *Engine) Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, model Model) (*Output, error) {
	e.transcriptions.Add(1)
	duration := pcm.Duration()

	if len(pcm.PCM) == 0 {
		return nil, ErrNoSpeechDetected
	}

	if e.config.SilenceGate != nil {
		analysis := e.config.SilenceGate.Analyze(pcm.Samples(), pcm.SampleRate)
		if !analysis.HasVoice() {
			e.silenceRejects.Add(1)
			e.logger.Debug("Silence gate rejected audio",
				slog.Float64("duration_seconds", duration),
				slog.Float64("peak_rms", analysis.PeakRMS),
			)
			return nil, ErrNoSpeechDetected
		}
	}

	dec, err := model.NewDecoder(pcm.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create decoder: %w", ErrRecognition, err)
	}
	defer dec.Close()

	start := time.Now()
	out := &Output{Duration: duration}
	collect := func(h *Hypothesis) {
		if h == nil || (h.Text == "" && len(h.Words) == 0) {
			return
		}
		out.Utterances++
		if h.Text != "" {
			out.Fragments = append(out.Fragments, h.Text)
		}
		out.Words = append(out.Words, h.Words...)
	}

	for _, chunk := range pcm.Chunks(e.config.ChunkSize) {
		if chunk.Index%e.config.CancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				e.record(out)
				return nil, fmt.Errorf("%w after %d chunks: %w", ErrCancelled, chunk.Index, err)
			}
		}

		h, err := dec.Feed(chunk.Data)
		if err != nil {
			e.record(out)
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrRecognition, chunk.Index, err)
		}
		out.Chunks++
		collect(h)
	}

	final, err := dec.Finalize()
	if err != nil {
		e.record(out)
		return nil, fmt.Errorf("%w: finalize: %w", ErrRecognition, err)
	}
	collect(final)
	e.record(out)

	out.Words = sanitizeWords(out.Words, duration)
	out.Text = strings.TrimSpace(strings.Join(out.Fragments, " "))

	e.logger.Debug("Transcription pass finished",
		slog.String("model", model.Name()),
		slog.Int("chunks", out.Chunks),
		slog.Int("utterances", out.Utterances),
		slog.Int("words", len(out.Words)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if out.Text == "" {
		return nil, ErrNoSpeechDetected
	}

	return out, nil
}

func (e *Engine) record(out *Output) {
	e.chunks.Add(uint64(out.Chunks))
	e.utterances.Add(uint64(out.Utterances))
	e.metrics.RecordChunks(out.Chunks, out.Utterances)
}

// sanitizeWords enforces start <= end <= duration with non-decreasing starts and
// confidences in [0, 1]. Decoders occasionally report ends past the last sample.
func sanitizeWords(words []WordTimestamp, duration float64) []WordTimestamp {
	prev := 0.0
	for i := range words {
		w := &words[i]

		if math.IsNaN(w.Start) || w.Start < prev {
			w.Start = prev
		}
		if w.Start > duration {
			w.Start = duration
		}
		if math.IsNaN(w.End) || w.End > duration {
			w.End = duration
		}
		if w.End < w.Start {
			w.End = w.Start
		}

		switch {
		case math.IsNaN(w.Confidence) || w.Confidence < 0:
			w.Confidence = 0
		case w.Confidence > 1:
			w.Confidence = 1
		}

		prev = w.Start
	}
	return words
}

// GetStats returns current engine statistics
func (e *Engine) GetStats() EngineStats {
	stats := EngineStats{
		Transcriptions: e.transcriptions.Load(),
		ChunksFed:      e.chunks.Load(),
		Utterances:     e.utterances.Load(),
		SilenceRejects: e.silenceRejects.Load(),
		ChunkSize:      e.config.ChunkSize,
	}
	if e.config.SilenceGate != nil {
		gate := e.config.SilenceGate.GetStats()
		stats.Gate = &gate
	}
	return stats
}
