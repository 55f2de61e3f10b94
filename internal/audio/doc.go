// Package audio normalizes uploaded audio containers into canonical mono 16-bit PCM.
// It owns the WAV codec, the per-format decoders (pure Go where available, ffmpeg
// otherwise) and the fixed-size chunking used by the recognizer.
package audio
