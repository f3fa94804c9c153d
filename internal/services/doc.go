// Package services holds the error taxonomy shared by processors and the
// worker loop, plus context annotation helpers for structured logging.
//
// Processors wrap failures with one of the exported sentinels so the worker
// can classify them: ErrUnrecoverable bypasses the retry machinery entirely,
// everything else follows the workflow's failure edge with backoff.
package services
