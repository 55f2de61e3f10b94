//go:build vosk

package recognizer

import (
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"
)

// NativeAvailable reports whether the binary links libvosk.
const NativeAvailable = true

type voskModel struct {
	model *vosk.VoskModel
}

// LoadVoskModel loads a Vosk model directory.
func LoadVoskModel(path string) (Model, error) {
	m, err := vosk.NewModel(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load vosk model from %s: %w", path, err)
	}
	return &voskModel{model: m}, nil
}

func (m *voskModel) Name() string { return "vosk" }

func (m *voskModel) NewDecoder(sampleRate int) (Decoder, error) {
	rec, err := vosk.NewRecognizer(m.model, float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("failed to create vosk recognizer: %w", err)
	}
	rec.SetWords(1)
	return &voskDecoder{rec: rec}, nil
}

func (m *voskModel) Close() error {
	m.model.Free()
	return nil
}

type voskDecoder struct {
	rec *vosk.VoskRecognizer
}

// Feed returns a hypothesis only when AcceptWaveform reports an utterance boundary.
func (d *voskDecoder) Feed(chunk []byte) (*Hypothesis, error) {
	switch d.rec.AcceptWaveform(chunk) {
	case 0:
		return nil, nil
	case 1:
		return ParseHypothesis(d.rec.Result())
	default:
		return nil, fmt.Errorf("vosk rejected waveform chunk")
	}
}

func (d *voskDecoder) Finalize() (*Hypothesis, error) {
	return ParseHypothesis(d.rec.FinalResult())
}

func (d *voskDecoder) Close() error {
	d.rec.Free()
	return nil
}
