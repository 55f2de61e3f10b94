// Package recognizer implements the streaming recognition engine. Audio is fed
// to an incremental Decoder in fixed-size chunks; completed utterances come back
// as hypotheses carrying text and word timestamps. Vosk is linked in with the
// vosk build tag, and a deterministic stub model is always available.
package recognizer
