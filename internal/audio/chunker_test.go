package audio

import (
	"bytes"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		size       int
		wantChunks int
		lastLen    int
	}{
		{name: "exact multiple", length: 16000, size: 8000, wantChunks: 2, lastLen: 8000},
		{name: "trailing partial chunk", length: 20000, size: 8000, wantChunks: 3, lastLen: 4000},
		{name: "smaller than one chunk", length: 100, size: 8000, wantChunks: 1, lastLen: 100},
		{name: "empty input", length: 0, size: 8000, wantChunks: 0},
		{name: "default size", length: 8001, size: 0, wantChunks: 2, lastLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, tt.length)
			for i := range pcm {
				pcm[i] = byte(i)
			}

			chunks := Split(pcm, tt.size)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("Expected %d chunks, got %d", tt.wantChunks, len(chunks))
			}
			if tt.wantChunks == 0 {
				return
			}

			if got := len(chunks[len(chunks)-1].Data); got != tt.lastLen {
				t.Errorf("Expected last chunk of %d bytes, got %d", tt.lastLen, got)
			}

			var joined []byte
			offset := 0
			for i, c := range chunks {
				if c.Index != i {
					t.Errorf("Chunk %d has index %d", i, c.Index)
				}
				if c.Offset != offset {
					t.Errorf("Chunk %d expected offset %d, got %d", i, offset, c.Offset)
				}
				offset += len(c.Data)
				joined = append(joined, c.Data...)
			}

			if !bytes.Equal(joined, pcm) {
				t.Error("Concatenated chunks differ from input")
			}
		})
	}
}
