// Package pipeline runs uploads through normalization, recognition,
// aggregation and report generation. Each upload is a Job driven through a
// fixed state machine; a Manager bounds how many run at once and retains
// finished jobs for monitoring.
package pipeline
