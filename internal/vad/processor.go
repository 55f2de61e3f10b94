package vad

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// fullScaleRMS is the RMS level treated as probability 1.0.
const fullScaleRMS = 10000.0

// Processor detects voice activity from short-term RMS energy. The threshold is
// fixed at construction and the counters are atomic, so one Processor can be
// shared by concurrent pipelines without locking.
type Processor struct {
	threshold  float32
	windowSize int // Samples per analysis window
	sampleRate int

	totalWindows  atomic.Uint64
	voiceWindows  atomic.Uint64
	lastProcessed atomic.Int64 // unix nanoseconds
}

// VADResult represents the result of voice activity detection on one window
type VADResult struct {
	Probability float32 `json:"probability"` // Voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`   // Whether voice was detected
	Confidence  float32 `json:"confidence"`  // Confidence in the result
	RMS         float64 `json:"rms"`
}

// Analysis summarizes voice activity across a whole buffer
type Analysis struct {
	Windows       int     `json:"windows"`
	VoiceWindows  int     `json:"voice_windows"`
	VoicedSeconds float64 `json:"voiced_seconds"`
	PeakRMS       float64 `json:"peak_rms"`
}

// HasVoice reports whether any window crossed the threshold.
func (a Analysis) HasVoice() bool {
	return a.VoiceWindows > 0
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
	WindowSize      int       `json:"window_size"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
	}, nil
}

// Process classifies one window of samples. The final window of a buffer may
// be shorter than the configured size.
func (p *Processor) Process(samples []int16) (*VADResult, error) {
	if len(samples) == 0 || len(samples) > p.windowSize {
		return nil, fmt.Errorf("expected 1 to %d samples, got %d", p.windowSize, len(samples))
	}

	result := classify(samples, p.threshold)

	voiced := 0
	if result.HasVoice {
		voiced = 1
	}
	p.record(1, voiced)

	return result, nil
}

// Analyze walks samples window by window. sampleRate is the rate of the buffer
// being analyzed and falls back to the processor's rate when zero. Counters are
// updated once per call.
func (p *Processor) Analyze(samples []int16, sampleRate int) Analysis {
	if sampleRate <= 0 {
		sampleRate = p.sampleRate
	}

	var a Analysis
	for off := 0; off < len(samples); off += p.windowSize {
		end := off + p.windowSize
		if end > len(samples) {
			end = len(samples)
		}

		result := classify(samples[off:end], p.threshold)

		a.Windows++
		if result.RMS > a.PeakRMS {
			a.PeakRMS = result.RMS
		}
		if result.HasVoice {
			a.VoiceWindows++
			a.VoicedSeconds += float64(end-off) / float64(sampleRate)
		}
	}

	if a.Windows > 0 {
		p.record(a.Windows, a.VoiceWindows)
	}
	return a
}

func (p *Processor) record(windows, voiced int) {
	p.totalWindows.Add(uint64(windows))
	p.voiceWindows.Add(uint64(voiced))
	p.lastProcessed.Store(time.Now().UnixNano())
}

func classify(samples []int16, threshold float32) *VADResult {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	probability := float32(math.Min(rms/fullScaleRMS, 1))
	hasVoice := probability > 0 && probability >= threshold

	// Confidence grows with the distance from the threshold
	confidence := float32(math.Abs(float64(probability - threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}

	return &VADResult{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence * 2,
		RMS:         rms,
	}
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	total := p.totalWindows.Load()
	voiced := p.voiceWindows.Load()

	voicePercentage := float64(0)
	if total > 0 {
		voicePercentage = float64(voiced) / float64(total) * 100
	}

	var last time.Time
	if ns := p.lastProcessed.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}

	return ProcessorStats{
		TotalWindows:    total,
		VoiceWindows:    voiced,
		VoicePercentage: voicePercentage,
		LastProcessed:   last,
		Threshold:       p.threshold,
		WindowSize:      p.windowSize,
	}
}
