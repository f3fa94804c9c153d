// Package config loads, normalizes, and validates the easel TOML
// configuration, with environment-variable overrides for secrets.
package config
