// Package server exposes the conversion pipeline over HTTP.
//
// POST /api/convert accepts a multipart upload and answers with the Word
// transcript as an attachment. The remaining routes report supported
// formats, health, retained jobs, statistics and Prometheus metrics.
package server
