package processors

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/services"
)

// DownloadAsset fetches an externally hosted image into the staging area for
// the asset-import workflow.
type DownloadAsset struct {
	httpClient *http.Client
	logger     *slog.Logger
	stagingDir string
}

// NewDownloadAsset constructs the download-asset processor.
func NewDownloadAsset(cfg *config.Config, logger *slog.Logger) *DownloadAsset {
	timeout := time.Duration(cfg.Delivery.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DownloadAsset{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "download-asset"),
		stagingDir: cfg.Paths.StagingDir,
	}
}

// Process downloads the request's source_url into staging.
func (d *DownloadAsset) Process(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
	request, err := decodeObject("download-asset", "request", job.Request)
	if err != nil {
		return nil, err
	}
	source := stringField(request, "source_url")
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "download-asset", "fetch", "request has no source_url", nil)
	}
	parsed, err := url.ParseRequestURI(source)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, services.Wrap(services.ErrValidation, "download-asset", "fetch", "source_url is not an http(s) URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrUnrecoverable, "download-asset", "fetch", "build request", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, services.ClassifyTransportError("download-asset", "fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, services.ClassifyStatus("download-asset", "fetch", resp.StatusCode, body)
	}

	filename := path.Base(parsed.Path)
	if filename == "" || filename == "/" || filename == "." {
		filename = "asset"
	}
	stagingPath := filepath.Join(d.stagingDir, job.UUID, filename)
	if err := os.MkdirAll(filepath.Dir(stagingPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrUnrecoverable, "download-asset", "fetch", "create staging directory", err)
	}
	dest, err := os.Create(stagingPath)
	if err != nil {
		return nil, services.Wrap(services.ErrUnrecoverable, "download-asset", "fetch", "create staging file", err)
	}
	written, err := io.Copy(dest, resp.Body)
	if err != nil {
		dest.Close()
		_ = os.Remove(stagingPath)
		return nil, services.Wrap(services.ErrTransient, "download-asset", "fetch", "stream asset", err)
	}
	if err := dest.Close(); err != nil {
		return nil, services.Wrap(services.ErrTransient, "download-asset", "fetch", "close staging file", err)
	}

	d.logger.Info("asset staged",
		logging.String(logging.FieldJobUUID, job.UUID),
		logging.Int64("bytes", written))

	return jobs.Payload{
		"image_id":     strings.TrimSuffix(filename, filepath.Ext(filename)),
		"staging_path": stagingPath,
		"source_url":   source,
	}, nil
}
