package recognizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRecognition wraps decoder-internal failures.
	ErrRecognition = errors.New("speech recognition failed")
	// ErrNoSpeechDetected is returned when decoding succeeded but produced no text.
	ErrNoSpeechDetected = errors.New("no speech detected")
	// ErrCancelled is returned when the context ends mid-transcription.
	ErrCancelled = errors.New("transcription cancelled")
	// ErrNativeUnavailable is returned by LoadVoskModel in builds without the vosk tag.
	ErrNativeUnavailable = errors.New("native vosk engine not compiled in (build with -tags vosk)")
)

// WordTimestamp is a recognized word with offsets in seconds.
type WordTimestamp struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Hypothesis is the text and word list of one completed utterance.
type Hypothesis struct {
	Text  string
	Words []WordTimestamp
}

// Model is a loaded acoustic model able to spawn independent decoders.
type Model interface {
	Name() string
	NewDecoder(sampleRate int) (Decoder, error)
	Close() error
}

// Decoder is a stateful incremental recognizer. Feed returns a hypothesis only
// when the chunk completed an utterance; Finalize flushes whatever is buffered.
type Decoder interface {
	Feed(chunk []byte) (*Hypothesis, error)
	Finalize() (*Hypothesis, error)
	Close() error
}

// voskResult mirrors the JSON emitted by Result and FinalResult.
type voskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Conf  float64 `json:"conf"`
	} `json:"result"`
}

// ParseHypothesis decodes a recognizer JSON result. Blank input yields an empty hypothesis.
func ParseHypothesis(raw string) (*Hypothesis, error) {
	if strings.TrimSpace(raw) == "" {
		return &Hypothesis{}, nil
	}

	var r voskResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to parse recognizer result: %w", err)
	}

	h := &Hypothesis{Text: strings.TrimSpace(r.Text)}
	if len(r.Result) > 0 {
		h.Words = make([]WordTimestamp, 0, len(r.Result))
		for _, w := range r.Result {
			h.Words = append(h.Words, WordTimestamp{
				Word:       w.Word,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Conf,
			})
		}
	}

	return h, nil
}
