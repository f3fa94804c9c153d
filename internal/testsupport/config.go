package testsupport

import (
	"path/filepath"
	"testing"

	"easel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LibraryDir = filepath.Join(base, "library")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithImageGen points the image-generation backend at the given URL.
func WithImageGen(baseURL, apiKey string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.ImageGen.BaseURL = baseURL
		cfg.ImageGen.APIKey = apiKey
	}
}

// WithTagMeta points the metadata-enrichment service at the given URL.
func WithTagMeta(baseURL, apiKey string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.TagMeta.BaseURL = baseURL
		cfg.TagMeta.APIKey = apiKey
	}
}

// WithMaxRetries overrides the worker retry ceiling.
func WithMaxRetries(max int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Worker.MaxRetries = max
	}
}
