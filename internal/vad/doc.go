// Package vad provides energy-based voice activity detection over PCM-16 windows.
// The recognizer uses it as a silence gate so all-silent uploads are rejected
// before an acoustic model is touched.
package vad
