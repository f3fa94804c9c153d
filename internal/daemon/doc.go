// Package daemon ties the pieces together: it enforces single-instance
// execution through a lock file, runs the polling worker, and serves the
// HTTP API for the lifetime of the process.
package daemon
