package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"easel/internal/config"
	"easel/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// newLogger builds the process logger from config, writing to stdout and the
// daemon log file.
func (c *commandContext) newLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		OutputPaths: []string{
			"stdout",
			filepath.Join(cfg.Paths.LogDir, "easeld.log"),
		},
	})
}

// apiBaseURL resolves the daemon API address for client commands.
func (c *commandContext) apiBaseURL() (string, string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", "", err
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	host := bind
	if strings.HasPrefix(bind, "0.0.0.0:") || strings.HasPrefix(bind, ":") {
		host = "127.0.0.1" + bind[strings.Index(bind, ":"):]
	}
	return "http://" + host, cfg.Paths.APIToken, nil
}
