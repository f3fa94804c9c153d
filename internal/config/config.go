package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// ImageGen contains configuration for the remote image-generation backend.
type ImageGen struct {
	BaseURL          string `toml:"base_url"`
	APIKey           string `toml:"api_key"`
	RequestTimeout   int    `toml:"request_timeout"`
	ProgressInterval int    `toml:"progress_interval"`
}

// TagMeta contains configuration for the metadata-enrichment service.
type TagMeta struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Delivery contains configuration for webhook result delivery.
type Delivery struct {
	RequestTimeout int `toml:"request_timeout"`
}

// Worker contains configuration for the polling worker loop.
type Worker struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MaxRetries         int `toml:"max_retries"`
}

// Notifications contains configuration for ntfy ops notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for easel.
//
// Sections by subsystem:
//   - Paths: data/staging/library directories and API bind address
//   - ImageGen: remote image-generation backend connection
//   - TagMeta: metadata-enrichment service connection
//   - Delivery: webhook delivery timeouts
//   - Worker: polling intervals and the retry ceiling
//   - Notifications: ntfy ops alerts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	ImageGen      ImageGen      `toml:"imagegen"`
	TagMeta       TagMeta       `toml:"tagmeta"`
	Delivery      Delivery      `toml:"delivery"`
	Worker        Worker        `toml:"worker"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// envOverrides carries secrets that may be supplied via the environment
// instead of the config file.
type envOverrides struct {
	APIToken       string `env:"EASEL_API_TOKEN"`
	ImageGenAPIKey string `env:"EASEL_IMAGEGEN_API_KEY"`
	TagMetaAPIKey  string `env:"EASEL_TAGMETA_API_KEY"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/easel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized, and environment
// overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnvOverrides() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	if v := strings.TrimSpace(overrides.APIToken); v != "" {
		c.Paths.APIToken = v
	}
	if v := strings.TrimSpace(overrides.ImageGenAPIKey); v != "" {
		c.ImageGen.APIKey = v
	}
	if v := strings.TrimSpace(overrides.TagMetaAPIKey); v != "" {
		c.TagMeta.APIKey = v
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("easel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// LibraryDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
