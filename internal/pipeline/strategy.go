package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lukehanabi/audio-to-doc/internal/audio"
	"github.com/lukehanabi/audio-to-doc/internal/diarization"
	"github.com/lukehanabi/audio-to-doc/internal/recognizer"
	"github.com/lukehanabi/audio-to-doc/internal/transcription"
)

// Transcriber runs a recognition pass over normalized audio.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, model recognizer.Model) (*recognizer.Output, error)
}

// Transcript is raw recognizer output awaiting aggregation.
type Transcript struct {
	Fragments []string
	Words     []recognizer.WordTimestamp
	Segments  []transcription.SpeakerSegment
}

// Aggregate turns the transcript into a scored result.
func (t *Transcript) Aggregate(src transcription.Source) *transcription.Result {
	if len(t.Segments) > 0 {
		return transcription.AggregateSegments(t.Segments, src)
	}
	return transcription.Aggregate(t.Fragments, t.Words, src)
}

// Strategy decides how a normalized file is fed to the recognizer.
type Strategy interface {
	Name() string
	Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, model recognizer.Model) (*Transcript, error)
}

// FlatTranscription recognizes the whole file in one pass.
type FlatTranscription struct {
	Engine Transcriber
}

// Name implements Strategy.
func (FlatTranscription) Name() string { return "flat" }

// Transcribe implements Strategy.
func (s FlatTranscription) Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, model recognizer.Model) (*Transcript, error) {
	out, err := s.Engine.Transcribe(ctx, pcm, model)
	if err != nil {
		return nil, err
	}
	return &Transcript{Fragments: out.Fragments, Words: out.Words}, nil
}

// SpeakerSegmentedTranscription recognizes each speaker turn separately.
// A turn without speech, or one the decoder fails on, is skipped; the
// remaining turns still make up the transcript.
type SpeakerSegmentedTranscription struct {
	Engine   Transcriber
	Segments []diarization.Segment
	Logger   *slog.Logger
}

// Name implements Strategy.
func (SpeakerSegmentedTranscription) Name() string { return "speaker_segmented" }

// Transcribe implements Strategy.
func (s SpeakerSegmentedTranscription) Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, model recognizer.Model) (*Transcript, error) {
	t := &Transcript{Segments: make([]transcription.SpeakerSegment, 0, len(s.Segments))}

	// Overlapping turns would otherwise move word starts backwards.
	prevStart := 0.0
	for _, seg := range s.Segments {
		out, err := s.Engine.Transcribe(ctx, pcm.Slice(seg.Start, seg.End), model)
		switch {
		case err == nil:
		case errors.Is(err, recognizer.ErrCancelled):
			return nil, err
		case errors.Is(err, recognizer.ErrNoSpeechDetected):
			continue
		default:
			if s.Logger != nil {
				s.Logger.Warn("Failed to transcribe speaker segment",
					slog.String("speaker", seg.Speaker),
					slog.Float64("start", seg.Start),
					slog.Float64("end", seg.End),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		words := make([]recognizer.WordTimestamp, len(out.Words))
		for i, w := range out.Words {
			w.Start = max(w.Start+seg.Start, prevStart)
			w.End = max(w.End+seg.Start, w.Start)
			words[i] = w
			prevStart = w.Start
		}

		t.Segments = append(t.Segments,
			transcription.NewSpeakerSegment(seg.Speaker, seg.Start, seg.End, out.Fragments, words))
	}

	if len(t.Segments) == 0 {
		return nil, recognizer.ErrNoSpeechDetected
	}
	return t, nil
}

// SelectStrategy picks SpeakerSegmentedTranscription when diarization found
// turns and FlatTranscription otherwise.
func SelectStrategy(engine Transcriber, segments []diarization.Segment, logger *slog.Logger) Strategy {
	if len(segments) == 0 {
		return FlatTranscription{Engine: engine}
	}
	return SpeakerSegmentedTranscription{Engine: engine, Segments: segments, Logger: logger}
}
