package recognizer

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"
)

// StubModel is a deterministic stand-in for a real acoustic model. Its decoders
// emit the next word of Words every UtteranceSamples non-zero samples, so the
// produced text depends only on the audio, never on how it was chunked.
type StubModel struct {
	Words            []string
	UtteranceSamples int
	Confidence       float64
	// FailAfter makes Feed fail once that many chunks were fed; zero disables it.
	FailAfter int
	closed    atomic.Bool
}

// NewStubModel returns a stub emitting "stub" for every 4000 voiced samples.
func NewStubModel() *StubModel {
	return &StubModel{Words: []string{"stub"}, UtteranceSamples: 4000, Confidence: 0.9}
}

// LoadStubModel satisfies the loader signature used by the model cache.
func LoadStubModel(string) (Model, error) {
	return NewStubModel(), nil
}

// Name implements Model.
func (m *StubModel) Name() string { return "stub" }

// NewDecoder implements Model.
func (m *StubModel) NewDecoder(sampleRate int) (Decoder, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("model closed")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if len(m.Words) == 0 || m.UtteranceSamples <= 0 {
		return nil, fmt.Errorf("stub model needs words and a positive utterance length")
	}
	return &stubDecoder{model: m, sampleRate: float64(sampleRate), utteranceStart: -1}, nil
}

// Close implements Model.
func (m *StubModel) Close() error {
	m.closed.Store(true)
	return nil
}

type stubDecoder struct {
	model      *StubModel
	sampleRate float64

	carry          []byte
	position       int // samples consumed
	voiced         int // voiced samples in the open utterance
	utteranceStart int
	wordIndex      int
	fed            int
}

func (d *stubDecoder) Feed(chunk []byte) (*Hypothesis, error) {
	d.fed++
	if d.model.FailAfter > 0 && d.fed > d.model.FailAfter {
		return nil, fmt.Errorf("stub decoder failure after %d chunks", d.model.FailAfter)
	}

	data := append(d.carry, chunk...)
	d.carry = nil
	if len(data)%2 == 1 {
		d.carry = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}

	var words []WordTimestamp
	for i := 0; i+1 < len(data); i += 2 {
		if int16(binary.LittleEndian.Uint16(data[i:])) != 0 {
			if d.utteranceStart < 0 {
				d.utteranceStart = d.position
			}
			d.voiced++
			if d.voiced == d.model.UtteranceSamples {
				words = append(words, d.emit(d.position+1))
			}
		}
		d.position++
	}

	return d.hypothesis(words), nil
}

func (d *stubDecoder) Finalize() (*Hypothesis, error) {
	if d.voiced == 0 {
		return &Hypothesis{}, nil
	}
	return d.hypothesis([]WordTimestamp{d.emit(d.position)}), nil
}

func (d *stubDecoder) Close() error { return nil }

func (d *stubDecoder) emit(endSample int) WordTimestamp {
	w := WordTimestamp{
		Word:       d.model.Words[d.wordIndex%len(d.model.Words)],
		Start:      float64(d.utteranceStart) / d.sampleRate,
		End:        float64(endSample) / d.sampleRate,
		Confidence: d.model.Confidence,
	}
	d.wordIndex++
	d.voiced = 0
	d.utteranceStart = -1
	return w
}

func (d *stubDecoder) hypothesis(words []WordTimestamp) *Hypothesis {
	if len(words) == 0 {
		return nil
	}
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Word
	}
	return &Hypothesis{Text: strings.Join(texts, " "), Words: words}
}
