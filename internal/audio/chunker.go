package audio

// DefaultChunkSize is the number of PCM bytes fed to the recognizer per step.
const DefaultChunkSize = 8000

// Chunk is a fixed-size slice of the PCM stream, ordered by offset.
type Chunk struct {
	Index  int
	Offset int
	Data   []byte
}

// Split cuts pcm into consecutive chunks of size bytes; the last chunk may be
// shorter. Chunks alias pcm rather than copying it. A non-positive size falls
// back to DefaultChunkSize.
func Split(pcm []byte, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := make([]Chunk, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := off + size
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Offset: off,
			Data:   pcm[off:end],
		})
	}

	return chunks
}
