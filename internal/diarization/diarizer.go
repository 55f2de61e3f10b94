package diarization

import (
	"context"
	"fmt"
	"sort"

	"github.com/lukehanabi/audio-to-doc/internal/audio"
)

// Segment is one speaker turn, in seconds from the start of the audio.
type Segment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Duration returns the length of the turn in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Diarizer splits audio into speaker turns. An empty result means the audio
// should be transcribed as a whole.
type Diarizer interface {
	Name() string
	Segment(ctx context.Context, pcm *audio.NormalizedAudio) ([]Segment, error)
}

// Disabled never segments.
type Disabled struct{}

// Name implements Diarizer.
func (Disabled) Name() string { return "disabled" }

// Segment implements Diarizer.
func (Disabled) Segment(context.Context, *audio.NormalizedAudio) ([]Segment, error) {
	return nil, nil
}

// Static returns a fixed list of turns. It is used to replay externally
// produced speaker timelines.
type Static struct {
	Segments []Segment
}

// Name implements Diarizer.
func (Static) Name() string { return "static" }

// Segment implements Diarizer. Turns are clipped to the audio duration and
// returned sorted by start; turns left empty by clipping are dropped.
func (s Static) Segment(_ context.Context, pcm *audio.NormalizedAudio) ([]Segment, error) {
	duration := pcm.Duration()
	out := make([]Segment, 0, len(s.Segments))
	for _, seg := range s.Segments {
		if seg.Speaker == "" {
			return nil, fmt.Errorf("segment at %.2fs has no speaker label", seg.Start)
		}
		if seg.End < seg.Start {
			return nil, fmt.Errorf("segment %s ends before it starts (%.2fs < %.2fs)", seg.Speaker, seg.End, seg.Start)
		}
		if seg.Start < 0 {
			seg.Start = 0
		}
		if seg.End > duration {
			seg.End = duration
		}
		if seg.End <= seg.Start {
			continue
		}
		out = append(out, seg)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}
