package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// Codec decodes one container format into mono PCM-16 at the source sample rate.
type Codec interface {
	Decode(ctx context.Context, path string) (*PCM, error)
}

// CodecFunc adapts a function to the Codec interface.
type CodecFunc func(ctx context.Context, path string) (*PCM, error)

// Decode calls f(ctx, path).
func (f CodecFunc) Decode(ctx context.Context, path string) (*PCM, error) {
	return f(ctx, path)
}

// WAVCodec passes canonical files through untouched and mixes everything else down
// with go-audio/wav.
type WAVCodec struct{}

// Decode implements Codec.
func (WAVCodec) Decode(_ context.Context, path string) (*PCM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	info, payload, err := ParseWAV(data)
	if err != nil {
		return nil, err
	}

	if info.IsCanonical() {
		return &PCM{Samples: bytesToSamples(payload), SampleRate: int(info.SampleRate)}, nil
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV samples: %w", err)
	}

	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("WAV file has no sample rate")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}

	return &PCM{
		Samples:    mixInt(buf.Data, buf.Format.NumChannels, bitDepth),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// MP3Codec decodes MPEG-1/2 layer III with go-mp3, which always yields 16-bit stereo.
type MP3Codec struct{}

// Decode implements Codec.
func (MP3Codec) Decode(_ context.Context, path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	stereo := bytesToSamples(raw)
	data := make([]int, len(stereo))
	for i, s := range stereo {
		data[i] = int(s)
	}

	return &PCM{Samples: mixInt(data, 2, 16), SampleRate: dec.SampleRate()}, nil
}

// FLACCodec decodes FLAC frame by frame with mewkiz/flac.
type FLACCodec struct{}

// Decode implements Codec.
func (FLACCodec) Decode(ctx context.Context, path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stream, err := flac.New(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC stream: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	bitDepth := int(stream.Info.BitsPerSample)

	var samples []int16
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode FLAC frame: %w", err)
		}

		if len(frame.Subframes) == 0 {
			continue
		}

		n := len(frame.Subframes[0].Samples)
		interleaved := make([]int, 0, n*channels)
		for i := 0; i < n; i++ {
			for c := 0; c < channels && c < len(frame.Subframes); c++ {
				interleaved = append(interleaved, int(frame.Subframes[c].Samples[i]))
			}
		}
		samples = append(samples, mixInt(interleaved, channels, bitDepth)...)
	}

	return &PCM{Samples: samples, SampleRate: int(stream.Info.SampleRate)}, nil
}

// OGGCodec decodes Ogg Vorbis with jfreymuth/oggvorbis.
type OGGCodec struct{}

// Decode implements Codec.
func (OGGCodec) Decode(_ context.Context, path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, format, err := oggvorbis.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Ogg Vorbis stream: %w", err)
	}

	return &PCM{Samples: mixFloat(data, format.Channels), SampleRate: format.SampleRate}, nil
}

// FFmpegCodec shells out to ffmpeg for containers without a pure Go decoder.
// The sample rate is left untouched so the source rate is preserved.
type FFmpegCodec struct {
	Path    string
	TempDir string
}

// Decode implements Codec.
func (c FFmpegCodec) Decode(ctx context.Context, path string) (*PCM, error) {
	bin, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not available at %q: %w", c.Path, err)
	}

	out, err := os.CreateTemp(c.TempDir, "ffmpeg-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", path,
		"-vn", "-ac", "1", "-acodec", "pcm_s16le",
		"-map_metadata", "-1", "-fflags", "+bitexact",
		outPath,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg failed on %s: %s", filepath.Base(path), msg)
	}

	return WAVCodec{}.Decode(ctx, outPath)
}
