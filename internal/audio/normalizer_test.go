package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestNormalizer(t *testing.T, ffmpeg string) (*Normalizer, string) {
	t.Helper()
	dir := t.TempDir()
	n := NewNormalizer(NormalizerConfig{
		Formats:    []string{"mp3", "wav", "aac", "m4a", "ogg", "flac", "wma", "mp4", "webm"},
		TempDir:    dir,
		FFmpegPath: ffmpeg,
	}, testLogger(), nil)
	return n, dir
}

// writeWAV encodes interleaved integer samples with go-audio so non-canonical
// layouts can be exercised.
func writeWAV(t *testing.T, path string, data []int, sampleRate, bitDepth, channels int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func assertCanonical(t *testing.T, out *NormalizedAudio, sampleRate int) {
	t.Helper()
	raw, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	require.NoError(t, ValidateWAV(raw))

	info, payload, err := ParseWAV(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(sampleRate), info.SampleRate)
	assert.Equal(t, out.PCM, payload)
	assert.Equal(t, 1, out.Channels)
	assert.Equal(t, 16, out.BitDepth)
	assert.Equal(t, sampleRate, out.SampleRate)
}

func TestNormalizeCanonicalWAVIsCopy(t *testing.T) {
	n, dir := newTestNormalizer(t, "ffmpeg")
	samples := sineSamples(16000, 0.25, 440)
	data, err := EncodeWAV(samples, 16000)
	require.NoError(t, err)

	in := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(in, data, 0644))

	out, err := n.Normalize(context.Background(), Asset{Path: in, Filename: "speech.wav"})
	require.NoError(t, err)

	assertCanonical(t, out, 16000)
	copied, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, data, copied)
	assert.Equal(t, filepath.Dir(out.Path), dir)

	require.NoError(t, out.Close())
	_, err = os.Stat(out.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, out.Close(), "closing twice is harmless")
}

func TestNormalizeNonCanonicalWAV(t *testing.T) {
	tests := []struct {
		name       string
		data       []int
		sampleRate int
		bitDepth   int
		channels   int
		frames     int
	}{
		{
			name:       "16-bit stereo",
			data:       []int{1000, 3000, -1000, -3000, 0, 0},
			sampleRate: 44100,
			bitDepth:   16,
			channels:   2,
			frames:     3,
		},
		{
			name:       "8-bit stereo",
			data:       []int{128, 128, 200, 100, 50, 60, 128, 128},
			sampleRate: 8000,
			bitDepth:   8,
			channels:   2,
			frames:     4,
		},
		{
			name:       "24-bit mono",
			data:       []int{0x100000, -0x100000, 0},
			sampleRate: 48000,
			bitDepth:   24,
			channels:   1,
			frames:     3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer(t, "ffmpeg")
			in := filepath.Join(t.TempDir(), "input.wav")
			writeWAV(t, in, tt.data, tt.sampleRate, tt.bitDepth, tt.channels)

			out, err := n.Normalize(context.Background(), Asset{Path: in, Filename: "input.WAV"})
			require.NoError(t, err)
			defer out.Close()

			assertCanonical(t, out, tt.sampleRate)
			assert.Len(t, out.Samples(), tt.frames)
		})
	}
}

func TestNormalizeStereoAveragesChannels(t *testing.T) {
	n, _ := newTestNormalizer(t, "ffmpeg")
	in := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, in, []int{1000, 3000, -1000, -3000}, 16000, 16, 2)

	out, err := n.Normalize(context.Background(), Asset{Path: in, Filename: "stereo.wav"})
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, []int16{2000, -2000}, out.Samples())
}

func TestNormalizeUnsupportedFormat(t *testing.T) {
	n, _ := newTestNormalizer(t, "ffmpeg")

	_, err := n.Normalize(context.Background(), Asset{Path: "/tmp/notes.txt", Filename: "notes.txt"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	var ufe *UnsupportedFormatError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, "txt", ufe.Extension)
}

func TestNormalizeCorruptInputLeavesNothingBehind(t *testing.T) {
	for _, ext := range []string{"wav", "mp3", "flac", "ogg"} {
		t.Run(ext, func(t *testing.T) {
			n, dir := newTestNormalizer(t, "ffmpeg")
			in := filepath.Join(t.TempDir(), "broken."+ext)
			require.NoError(t, os.WriteFile(in, []byte("this is not audio at all"), 0644))

			_, err := n.Normalize(context.Background(), Asset{Path: in, Filename: "broken." + ext})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode), "got %v", err)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestNormalizeMissingFFmpeg(t *testing.T) {
	n, _ := newTestNormalizer(t, "ffmpeg-binary-that-does-not-exist")
	in := filepath.Join(t.TempDir(), "clip.m4a")
	require.NoError(t, os.WriteFile(in, []byte{0, 1, 2, 3}, 0644))

	_, err := n.Normalize(context.Background(), Asset{Path: in, Filename: "clip.m4a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.Contains(t, err.Error(), "ffmpeg not available")
}

func TestNormalizeEmptyDecode(t *testing.T) {
	n, _ := newTestNormalizer(t, "ffmpeg")
	n.Register("wav", CodecFunc(func(ctx context.Context, path string) (*PCM, error) {
		return &PCM{SampleRate: 16000}, nil
	}))

	_, err := n.Normalize(context.Background(), Asset{Path: "x.wav", Filename: "x.wav"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestNormalizerFormats(t *testing.T) {
	n, _ := newTestNormalizer(t, "ffmpeg")
	assert.Equal(t, []string{"mp3", "wav", "aac", "m4a", "ogg", "flac", "wma", "mp4", "webm"}, n.Formats())
	assert.True(t, n.Supports("FLAC"))
	assert.False(t, n.Supports("txt"))
}

func TestAssetFormat(t *testing.T) {
	assert.Equal(t, "mp3", Asset{Filename: "Song.MP3"}.Format())
	assert.Equal(t, "wav", Asset{Extension: ".WAV", Filename: "x.mp3"}.Format())
	assert.Equal(t, "ogg", Asset{Path: "/tmp/abc.ogg"}.Format())
	assert.Equal(t, "", Asset{Filename: "README"}.Format())
}

func TestNormalizedAudioSliceAndDuration(t *testing.T) {
	samples := make([]int16, 16000) // 1 second
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	data, err := EncodeWAV(samples, 16000)
	require.NoError(t, err)

	na := NewNormalizedAudio(data[44:], 16000)
	assert.InDelta(t, 1.0, na.Duration(), 1e-9)
	assert.Len(t, na.Chunks(8000), 4)

	part := na.Slice(0.25, 0.5)
	assert.InDelta(t, 0.25, part.Duration(), 1e-9)
	assert.Equal(t, samples[4000:8000], part.Samples())

	assert.Empty(t, na.Slice(2, 3).PCM)
	assert.Empty(t, na.Slice(0.5, 0.25).PCM)
}
