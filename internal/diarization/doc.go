// Package diarization defines the speaker segmentation capability. The
// service ships with Disabled, which never segments, so every file is
// transcribed as a single stream.
package diarization
