package tagmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"easel/internal/services"
)

const defaultHTTPTimeout = 30 * time.Second

// Client wraps the metadata-enrichment service that captions and tags
// finished images.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option customizes the tagmeta client.
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

// NewClient constructs a tagmeta API client.
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

// TagRequest asks the service to describe one stored image.
type TagRequest struct {
	ImageID     string `json:"image_id"`
	Prompt      string `json:"prompt,omitempty"`
	LibraryPath string `json:"library_path,omitempty"`
}

// TagResult carries the generated description.
type TagResult struct {
	Tags    []string `json:"tags"`
	Caption string   `json:"caption"`
}

// Tag requests tags and a caption for a finished image.
func (c *Client) Tag(ctx context.Context, request TagRequest) (TagResult, error) {
	var empty TagResult
	if strings.TrimSpace(request.ImageID) == "" {
		return empty, services.Wrap(services.ErrValidation, "tag", "describe", "image id required", nil)
	}
	if c.baseURL == "" {
		return empty, services.Wrap(services.ErrConfiguration, "tag", "describe", "tagmeta base URL not configured", nil)
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return empty, services.Wrap(services.ErrUnrecoverable, "tag", "describe", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tags", bytes.NewReader(encoded))
	if err != nil {
		return empty, services.Wrap(services.ErrUnrecoverable, "tag", "describe", "build request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, services.ClassifyTransportError("tag", "describe", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, services.Wrap(services.ErrTransient, "tag", "describe", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, services.ClassifyStatus("tag", "describe", resp.StatusCode, payload)
	}

	var result TagResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return empty, services.Wrap(services.ErrTransient, "tag", "describe", "decode response", err)
	}
	return result, nil
}
