package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"easel/internal/services"
)

const defaultHTTPTimeout = 600 * time.Second

// Client wraps the remote image-generation backend.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option customizes the image-generation client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient constructs an image-generation API client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// GenerateRequest describes one rendering request. ID is a caller-supplied
// correlation identifier; the backend tracks in-flight progress under it.
type GenerateRequest struct {
	ID             string `json:"id"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
}

// GenerateResult is the backend's description of a finished rendering.
type GenerateResult struct {
	ImageID string `json:"image_id"`
	Format  string `json:"format"`
	Seed    int64  `json:"seed"`
}

// Generate blocks until the backend finishes rendering. Callers that want
// progress run Progress in a background task keyed by the request ID.
func (c *Client) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	var empty GenerateResult
	if strings.TrimSpace(request.Prompt) == "" {
		return empty, services.Wrap(services.ErrValidation, "generate", "render", "prompt required", nil)
	}
	if c.baseURL == "" {
		return empty, services.Wrap(services.ErrConfiguration, "generate", "render", "imagegen base URL not configured", nil)
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return empty, services.Wrap(services.ErrUnrecoverable, "generate", "render", "encode request", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/generations", bytes.NewReader(encoded), "render")
	if err != nil {
		return empty, err
	}

	var result GenerateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return empty, services.Wrap(services.ErrTransient, "generate", "render", "decode response", err)
	}
	if result.ImageID == "" {
		return empty, services.Wrap(services.ErrTransient, "generate", "render", "backend returned no image id", nil)
	}
	return result, nil
}

type progressResponse struct {
	Percent float64 `json:"percent"`
}

// Progress reports the rendering fraction (0..1) for an in-flight request.
func (c *Client) Progress(ctx context.Context, requestID string) (float64, error) {
	if strings.TrimSpace(requestID) == "" {
		return 0, services.Wrap(services.ErrValidation, "generate", "progress", "request id required", nil)
	}
	body, err := c.do(ctx, http.MethodGet, "/v1/generations/"+url.PathEscape(requestID)+"/progress", nil, "progress")
	if err != nil {
		return 0, err
	}
	var progress progressResponse
	if err := json.Unmarshal(body, &progress); err != nil {
		return 0, services.Wrap(services.ErrTransient, "generate", "progress", "decode response", err)
	}
	if progress.Percent < 0 {
		progress.Percent = 0
	}
	if progress.Percent > 1 {
		progress.Percent = 1
	}
	return progress.Percent, nil
}

// Download streams a finished image to the destination path.
func (c *Client) Download(ctx context.Context, imageID, destPath string) error {
	if strings.TrimSpace(imageID) == "" {
		return services.Wrap(services.ErrValidation, "generate", "download", "image id required", nil)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/images/"+url.PathEscape(imageID), nil)
	if err != nil {
		return services.Wrap(services.ErrUnrecoverable, "generate", "download", "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.ClassifyTransportError("generate", "download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.ClassifyStatus("generate", "download", resp.StatusCode, payload)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return services.Wrap(services.ErrUnrecoverable, "generate", "download", "create staging directory", err)
	}
	dest, err := os.Create(destPath)
	if err != nil {
		return services.Wrap(services.ErrUnrecoverable, "generate", "download", "create staging file", err)
	}
	if _, err := io.Copy(dest, resp.Body); err != nil {
		dest.Close()
		_ = os.Remove(destPath)
		return services.Wrap(services.ErrTransient, "generate", "download", "stream image", err)
	}
	if err := dest.Close(); err != nil {
		return services.Wrap(services.ErrTransient, "generate", "download", "close staging file", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, operation string) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, services.Wrap(services.ErrUnrecoverable, "generate", operation, "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.ClassifyTransportError("generate", operation, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "generate", operation, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.ClassifyStatus("generate", operation, resp.StatusCode, payload)
	}
	return payload, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

