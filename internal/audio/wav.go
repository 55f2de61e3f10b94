package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	wavHeaderSize  = 44
	wavFormatPCM   = 1
	wavFormatExt   = 0xFFFE
	wavUnknownSize = 0xFFFFFFFF
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes the format and payload of a WAV file
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// IsCanonical reports whether the file is already mono 16-bit PCM.
func (i *WAVInfo) IsCanonical() bool {
	return i.AudioFormat == wavFormatPCM && i.Channels == 1 && i.BitsPerSample == 16
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	return EncodePCM(pcm, sampleRate)
}

// EncodePCM wraps little-endian mono PCM-16 bytes in a canonical WAV header
func EncodePCM(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM-16 payload must have an even length, got %d", len(pcm))
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(pcm))

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	buf.Write(pcm)

	return buf.Bytes(), nil
}

// ParseWAV walks the RIFF chunks of a WAV file and returns its format and the raw
// data payload. Chunks other than "fmt " and "data" are skipped, and a data chunk
// with an unknown size (as written by streaming encoders) extends to the end of input.
func ParseWAV(data []byte) (*WAVInfo, []byte, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var info *WAVInfo
	var payload []byte

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8

		end := len(data)
		if size != wavUnknownSize && body+int(size) <= len(data) {
			end = body + int(size)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk too short")
			}
			info = &WAVInfo{
				AudioFormat:   binary.LittleEndian.Uint16(data[body : body+2]),
				Channels:      binary.LittleEndian.Uint16(data[body+2 : body+4]),
				SampleRate:    binary.LittleEndian.Uint32(data[body+4 : body+8]),
				BitsPerSample: binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
			// WAVE_FORMAT_EXTENSIBLE carries the real format tag in its sub-format GUID.
			if info.AudioFormat == wavFormatExt && end-body >= 26 {
				info.AudioFormat = binary.LittleEndian.Uint16(data[body+24 : body+26])
			}
		case "data":
			payload = data[body:end]
		}

		if payload != nil && info != nil {
			break
		}

		// chunks are word aligned
		pos = end + (end-body)%2
	}

	if info == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if payload == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if info.SampleRate == 0 {
		return nil, nil, fmt.Errorf("invalid sample rate: 0")
	}

	if info.Channels == 0 || info.BitsPerSample == 0 {
		return nil, nil, fmt.Errorf("invalid WAV format: %d channels, %d bits", info.Channels, info.BitsPerSample)
	}

	frameSize := uint32(info.Channels) * uint32(info.BitsPerSample) / 8
	info.DataSize = uint32(len(payload))
	if frameSize > 0 {
		info.NumSamples = info.DataSize / frameSize
	}
	info.Duration = float64(info.NumSamples) / float64(info.SampleRate)

	return info, payload, nil
}

// ValidateWAV checks that data is a canonical mono 16-bit PCM WAV file
func ValidateWAV(data []byte) error {
	info, _, err := ParseWAV(data)
	if err != nil {
		return err
	}

	if info.AudioFormat != wavFormatPCM {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", info.AudioFormat)
	}

	if info.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}

	if info.Channels != 1 {
		return fmt.Errorf("unsupported channel count: %d (only mono is supported)", info.Channels)
	}

	return nil
}
