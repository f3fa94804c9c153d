package processors

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/services"
)

// DeliverWebhook posts the job's accumulated result to the submitter's
// webhook. Anything short of a 2xx answer is reported transient so the job
// stays in its holding state and the attempt repeats after backoff.
type DeliverWebhook struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDeliverWebhook constructs the webhook delivery processor.
func NewDeliverWebhook(cfg *config.Config, logger *slog.Logger) *DeliverWebhook {
	timeout := time.Duration(cfg.Delivery.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DeliverWebhook{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "deliver-webhook"),
	}
}

// Process delivers one attempt. Jobs without a webhook target confirm
// immediately.
func (d *DeliverWebhook) Process(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
	if job.WebhookURL == "" {
		d.logger.Debug("no webhook target, confirming",
			logging.String(logging.FieldJobUUID, job.UUID))
		return nil, nil
	}

	body := []byte(job.Result)
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "deliver-webhook", "post", "build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if job.WebhookKey != "" {
		req.Header.Set("X-Easel-Key", job.WebhookKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, services.ClassifyTransportError("deliver-webhook", "post", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		// A 4xx from the receiver still gets retried; only the submitter's
		// confirmation finishes the job.
		return nil, services.Wrap(services.ErrTransient, "deliver-webhook", "post",
			"webhook answered "+resp.Status+": "+string(bytes.TrimSpace(detail)), nil)
	}

	d.logger.Info("delivery confirmed",
		logging.String(logging.FieldJobUUID, job.UUID),
		logging.Int("status", resp.StatusCode))
	return jobs.Payload{"delivered_at": time.Now().UTC().Format(time.RFC3339)}, nil
}
