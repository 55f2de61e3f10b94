package vad

import (
	"math"
	"sync"
	"testing"
)

func TestNewProcessor(t *testing.T) {
	processor, err := NewProcessor(0.01, 512, 16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	stats := processor.GetStats()
	if stats.Threshold != 0.01 {
		t.Errorf("Expected threshold 0.01, got %f", stats.Threshold)
	}

	if stats.WindowSize != 512 {
		t.Errorf("Expected window size 512, got %d", stats.WindowSize)
	}

	if stats.TotalWindows != 0 || !stats.LastProcessed.IsZero() {
		t.Errorf("Expected empty stats for a new processor, got %+v", stats)
	}
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		windowSize int
		sampleRate int
		expectErr  bool
	}{
		{name: "valid parameters", threshold: 0.5, windowSize: 512, sampleRate: 8000},
		{name: "threshold too low", threshold: -0.1, windowSize: 512, sampleRate: 8000, expectErr: true},
		{name: "threshold too high", threshold: 1.1, windowSize: 512, sampleRate: 8000, expectErr: true},
		{name: "zero window size", threshold: 0.5, windowSize: 0, sampleRate: 8000, expectErr: true},
		{name: "negative sample rate", threshold: 0.5, windowSize: 512, sampleRate: -1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold, tt.windowSize, tt.sampleRate)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestVoiceActivityDetection(t *testing.T) {
	processor, err := NewProcessor(0.05, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	constant := func(v int16) []int16 {
		samples := make([]int16, 512)
		for i := range samples {
			samples[i] = v
		}
		return samples
	}

	tests := []struct {
		name        string
		samples     []int16
		expectVoice bool
	}{
		{name: "silence", samples: make([]int16, 512), expectVoice: false},
		{name: "high energy", samples: constant(8000), expectVoice: true},
		{name: "low energy", samples: constant(100), expectVoice: false},
		{
			name: "alternating pattern",
			samples: func() []int16 {
				s := constant(5000)
				for i := 1; i < len(s); i += 2 {
					s[i] = -5000
				}
				return s
			}(),
			expectVoice: true,
		},
		{name: "short final window", samples: constant(8000)[:100], expectVoice: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := processor.Process(tt.samples)
			if err != nil {
				t.Fatalf("Failed to process samples: %v", err)
			}

			if result.HasVoice != tt.expectVoice {
				t.Errorf("Expected voice=%v, got %v (probability %.3f)", tt.expectVoice, result.HasVoice, result.Probability)
			}

			if result.Probability < 0 || result.Probability > 1 {
				t.Errorf("Invalid probability: %f", result.Probability)
			}

			if result.Confidence < 0 || result.Confidence > 1 {
				t.Errorf("Invalid confidence: %f", result.Confidence)
			}
		})
	}
}

func TestProcessWrongSampleCount(t *testing.T) {
	processor, err := NewProcessor(0.5, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if _, err := processor.Process(make([]int16, 1024)); err == nil {
		t.Error("Expected error for oversized window")
	}

	if _, err := processor.Process(nil); err == nil {
		t.Error("Expected error for empty window")
	}
}

func TestZeroThresholdNeverFlagsSilence(t *testing.T) {
	processor, err := NewProcessor(0, 256, 16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	a := processor.Analyze(make([]int16, 16000), 16000)
	if a.HasVoice() {
		t.Error("All-zero audio must not be reported as voiced")
	}
}

func TestAnalyze(t *testing.T) {
	processor, err := NewProcessor(0.01, 1000, 16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	// 1 second of silence followed by 0.5 seconds of loud signal
	samples := make([]int16, 24000)
	for i := 16000; i < len(samples); i++ {
		if i%2 == 0 {
			samples[i] = 3000
		} else {
			samples[i] = -3000
		}
	}

	a := processor.Analyze(samples, 16000)
	if a.Windows != 24 {
		t.Errorf("Expected 24 windows, got %d", a.Windows)
	}
	if a.VoiceWindows != 8 {
		t.Errorf("Expected 8 voiced windows, got %d", a.VoiceWindows)
	}
	if a.VoicedSeconds != 0.5 {
		t.Errorf("Expected 0.5 voiced seconds, got %f", a.VoicedSeconds)
	}
	if a.PeakRMS != 3000 {
		t.Errorf("Expected peak RMS 3000, got %f", a.PeakRMS)
	}

	stats := processor.GetStats()
	if stats.TotalWindows != 24 || stats.VoiceWindows != 8 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if math.Abs(stats.VoicePercentage-100.0/3) > 1e-9 {
		t.Errorf("Expected 33.3%% voiced, got %f", stats.VoicePercentage)
	}
	if stats.LastProcessed.IsZero() {
		t.Error("Expected last processed time to be set")
	}
}

func TestProcessUpdatesStats(t *testing.T) {
	processor, err := NewProcessor(0.05, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	loud := make([]int16, 512)
	for i := range loud {
		loud[i] = 8000
	}

	for _, window := range [][]int16{loud, make([]int16, 512), loud} {
		if _, err := processor.Process(window); err != nil {
			t.Fatalf("Failed to process samples: %v", err)
		}
	}

	// Rejected windows are not counted
	if _, err := processor.Process(nil); err == nil {
		t.Fatal("Expected error for empty window")
	}

	stats := processor.GetStats()
	if stats.TotalWindows != 3 || stats.VoiceWindows != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestConcurrentAnalyze(t *testing.T) {
	processor, err := NewProcessor(0.01, 512, 16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	samples := make([]int16, 5120)
	for i := range samples {
		samples[i] = 2000
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a := processor.Analyze(samples, 16000); a.VoiceWindows != 10 {
				t.Errorf("Expected 10 voiced windows, got %d", a.VoiceWindows)
			}
		}()
	}
	wg.Wait()

	if got := processor.GetStats().TotalWindows; got != 80 {
		t.Errorf("Expected 80 windows in stats, got %d", got)
	}
}
