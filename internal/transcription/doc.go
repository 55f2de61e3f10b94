// Package transcription turns recognizer output into a scored Result and maps
// pipeline failures to the messages shown to users. It also owns the language
// selectors accepted by the service and their model locales.
package transcription
