// Package api exposes the job queue over HTTP: job submission, inspection,
// cancellation, failure review, and daemon health. Submission is the only
// write path clients get; every transition after acceptance belongs to the
// worker.
package api
