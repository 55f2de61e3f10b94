package transcription

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lukehanabi/audio-to-doc/internal/audio"
	"github.com/lukehanabi/audio-to-doc/internal/models"
	"github.com/lukehanabi/audio-to-doc/internal/recognizer"
)

const (
	noSpeechMessage       = "No speech detected in audio. Try speaking more clearly or check if the audio contains speech."
	otherLanguagesNote    = "For other languages, consider using online speech recognition services."
	maxFallbackConfidence = 0.8
)

// Result is the outcome of one transcription, successful or not. It is built
// once by Aggregate, AggregateSegments or Failed and not modified afterwards.
type Result struct {
	Success            bool                       `json:"success"`
	Text               string                     `json:"text"`
	Confidence         float64                    `json:"confidence"`
	LanguageDetected   string                     `json:"language_detected,omitempty"`
	WordTimestamps     []recognizer.WordTimestamp `json:"word_timestamps,omitempty"`
	Error              string                     `json:"error,omitempty"`
	ServiceUsed        string                     `json:"service_used,omitempty"`
	Note               string                     `json:"note,omitempty"`
	SupportedLanguages []string                   `json:"supported_languages,omitempty"`
	Segments           []SpeakerSegment           `json:"speaker_segments,omitempty"`
}

// SpeakerSegment is the transcript of one diarized speaker turn.
type SpeakerSegment struct {
	Speaker    string  `json:"speaker"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Duration   float64 `json:"duration"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`

	Words []recognizer.WordTimestamp `json:"-"`
}

// Source identifies the model that produced a transcript.
type Source struct {
	Service string // model name, e.g. "vosk"
	Locale  string
}

// Aggregate joins utterance fragments into a single transcript and scores it.
// Empty text yields a failed result with the no-speech message.
func Aggregate(fragments []string, words []recognizer.WordTimestamp, src Source) *Result {
	text := joinFragments(fragments)
	if text == "" {
		return Failed(recognizer.ErrNoSpeechDetected)
	}

	return &Result{
		Success:          true,
		Text:             text,
		Confidence:       score(text, words),
		LanguageDetected: src.Locale,
		WordTimestamps:   words,
		ServiceUsed:      src.Service,
		Note:             fmt.Sprintf("Transcribed using %s model for %s", displayName(src.Service), src.Locale),
	}
}

// NewSpeakerSegment scores the transcript of a single speaker turn with the
// same rules Aggregate applies to a whole file.
func NewSpeakerSegment(speaker string, start, end float64, fragments []string, words []recognizer.WordTimestamp) SpeakerSegment {
	text := joinFragments(fragments)
	return SpeakerSegment{
		Speaker:    speaker,
		Start:      start,
		End:        end,
		Duration:   end - start,
		Text:       text,
		Confidence: score(text, words),
		Words:      words,
	}
}

// AggregateSegments builds a result from per-speaker transcripts. Segments
// without text are dropped; if none remain the result is a no-speech failure.
func AggregateSegments(segments []SpeakerSegment, src Source) *Result {
	kept := make([]SpeakerSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.Text != "" {
			kept = append(kept, seg)
		}
	}
	if len(kept) == 0 {
		return Failed(recognizer.ErrNoSpeechDetected)
	}

	lines := make([]string, len(kept))
	var words []recognizer.WordTimestamp
	var total float64
	for i, seg := range kept {
		lines[i] = seg.Speaker + ": " + seg.Text
		words = append(words, seg.Words...)
		total += seg.Confidence
	}

	return &Result{
		Success:          true,
		Text:             strings.Join(lines, "\n\n"),
		Confidence:       total / float64(len(kept)),
		LanguageDetected: src.Locale,
		WordTimestamps:   words,
		ServiceUsed:      src.Service,
		Note:             fmt.Sprintf("Transcribed with speaker diarization using %s model for %s", displayName(src.Service), src.Locale),
		Segments:         kept,
	}
}

// Failed captures an upstream error as an unsuccessful result.
func Failed(err error) *Result {
	r := &Result{Error: Describe(err)}

	var langErr *UnsupportedLanguageError
	if errors.As(err, &langErr) {
		r.SupportedLanguages = LanguageNames()
		r.Note = otherLanguagesNote
	}

	return r
}

// FallbackConfidence scores a transcript without per-word confidences from its
// word count alone.
func FallbackConfidence(wordCount int) float64 {
	c := 0.5 + float64(wordCount)*0.05
	if c > maxFallbackConfidence {
		return maxFallbackConfidence
	}
	return c
}

// Describe renders err as the message shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var langErr *UnsupportedLanguageError
	var formatErr *audio.UnsupportedFormatError

	switch {
	case errors.As(err, &langErr):
		return langErr.Error()
	case errors.As(err, &formatErr):
		return "Unsupported file format: " + formatErr.Extension
	case errors.Is(err, recognizer.ErrNoSpeechDetected):
		return noSpeechMessage
	case errors.Is(err, audio.ErrDecode):
		return "Failed to convert audio to WAV format: " + detail(err, audio.ErrDecode)
	case errors.Is(err, models.ErrModelLoad):
		return "Model load failed: " + detail(err, models.ErrModelLoad)
	case errors.Is(err, recognizer.ErrRecognition):
		return "Speech recognition failed: " + detail(err, recognizer.ErrRecognition)
	case errors.Is(err, recognizer.ErrCancelled):
		return "Transcription cancelled"
	default:
		return err.Error()
	}
}

// FailureKind classifies err for metrics labels.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnsupportedLanguage):
		return "unsupported_language"
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, recognizer.ErrNoSpeechDetected):
		return "no_speech"
	case errors.Is(err, audio.ErrDecode):
		return "decode"
	case errors.Is(err, models.ErrModelLoad):
		return "model_load"
	case errors.Is(err, recognizer.ErrRecognition):
		return "recognition"
	case errors.Is(err, recognizer.ErrCancelled):
		return "cancelled"
	default:
		return "internal"
	}
}

// detail strips the sentinel's own text from the front of err's message.
func detail(err, sentinel error) string {
	msg := err.Error()
	if trimmed, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return trimmed
	}
	return msg
}

func joinFragments(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}

func score(text string, words []recognizer.WordTimestamp) float64 {
	if len(words) == 0 {
		return FallbackConfidence(len(strings.Fields(text)))
	}

	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}

func displayName(service string) string {
	if service == "" {
		return "unknown"
	}
	return strings.ToUpper(service[:1]) + service[1:]
}
