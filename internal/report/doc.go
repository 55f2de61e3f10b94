// Package report lays out transcription results as documents and writes them
// as .docx files.
package report
