package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeImageGen()
	c.normalizeTagMeta()
	c.normalizeDelivery()
	c.normalizeWorker()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		c.Paths.LibraryDir = defaultLibraryDir
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeImageGen() {
	c.ImageGen.BaseURL = strings.TrimRight(strings.TrimSpace(c.ImageGen.BaseURL), "/")
	c.ImageGen.APIKey = strings.TrimSpace(c.ImageGen.APIKey)
	if c.ImageGen.RequestTimeout <= 0 {
		c.ImageGen.RequestTimeout = defaultImageGenRequestTimeout
	}
	if c.ImageGen.ProgressInterval <= 0 {
		c.ImageGen.ProgressInterval = defaultImageGenProgressInterval
	}
}

func (c *Config) normalizeTagMeta() {
	c.TagMeta.BaseURL = strings.TrimRight(strings.TrimSpace(c.TagMeta.BaseURL), "/")
	c.TagMeta.APIKey = strings.TrimSpace(c.TagMeta.APIKey)
	if c.TagMeta.RequestTimeout <= 0 {
		c.TagMeta.RequestTimeout = defaultTagMetaRequestTimeout
	}
}

func (c *Config) normalizeDelivery() {
	if c.Delivery.RequestTimeout <= 0 {
		c.Delivery.RequestTimeout = defaultDeliveryRequestTimeout
	}
}

func (c *Config) normalizeWorker() {
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = defaultWorkerPollInterval
	}
	if c.Worker.ErrorRetryInterval <= 0 {
		c.Worker.ErrorRetryInterval = defaultWorkerErrorRetryInterval
	}
	if c.Worker.MaxRetries <= 0 {
		c.Worker.MaxRetries = defaultWorkerMaxRetries
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
