// Package logging configures slog for the daemon and exposes the
// standardized attribute keys used across components.
//
// Handlers come in two formats: a compact console handler for interactive
// terminals and a JSON handler for log files and pipes. When no format is
// configured the package picks one based on whether stdout is a TTY.
package logging
