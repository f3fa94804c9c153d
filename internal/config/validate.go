package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateImageGen(); err != nil {
		return err
	}
	if err := c.validateTagMeta(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateImageGen() error {
	if strings.TrimSpace(c.ImageGen.BaseURL) == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(c.ImageGen.BaseURL); err != nil {
		return fmt.Errorf("imagegen.base_url: %w", err)
	}
	return nil
}

func (c *Config) validateTagMeta() error {
	if strings.TrimSpace(c.TagMeta.BaseURL) == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(c.TagMeta.BaseURL); err != nil {
		return fmt.Errorf("tagmeta.base_url: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
