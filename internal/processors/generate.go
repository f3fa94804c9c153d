package processors

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/services"
	"easel/internal/services/imagegen"
)

// Generate renders an image through the remote backend. The render call
// blocks; a background task samples the backend's progress endpoint and
// tickles the job's progress fraction until the call returns.
type Generate struct {
	client           *imagegen.Client
	store            *jobs.Store
	logger           *slog.Logger
	stagingDir       string
	progressInterval time.Duration
}

// NewGenerate constructs the generate processor.
func NewGenerate(cfg *config.Config, client *imagegen.Client, store *jobs.Store, logger *slog.Logger) *Generate {
	interval := time.Duration(cfg.ImageGen.ProgressInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Generate{
		client:           client,
		store:            store,
		logger:           logging.NewComponentLogger(logger, "generate"),
		stagingDir:       cfg.Paths.StagingDir,
		progressInterval: interval,
	}
}

// Process renders the job's prompt and stages the finished image.
func (g *Generate) Process(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
	request, err := decodeObject("generate", "request", job.Request)
	if err != nil {
		return nil, err
	}
	prompt := stringField(request, "prompt")
	if prompt == "" {
		return nil, services.Wrap(services.ErrValidation, "generate", "render", "request has no prompt", nil)
	}

	stop := g.startProgressSampling(ctx, job.UUID)
	result, renderErr := g.client.Generate(ctx, imagegen.GenerateRequest{
		ID:             job.UUID,
		Prompt:         prompt,
		NegativePrompt: stringField(request, "negative_prompt"),
		Width:          intField(request, "width"),
		Height:         intField(request, "height"),
		Steps:          intField(request, "steps"),
		Seed:           int64Field(request, "seed"),
	})
	stop()
	if renderErr != nil {
		return nil, renderErr
	}

	format := result.Format
	if format == "" {
		format = "png"
	}
	stagingPath := filepath.Join(g.stagingDir, job.UUID, result.ImageID+"."+format)
	if err := g.client.Download(ctx, result.ImageID, stagingPath); err != nil {
		return nil, err
	}

	return jobs.Payload{
		"image_id":     result.ImageID,
		"format":       format,
		"seed":         result.Seed,
		"staging_path": stagingPath,
	}, nil
}

// startProgressSampling launches the sampling task scoped to this attempt and
// returns the teardown that every exit path must run before Process returns.
func (g *Generate) startProgressSampling(ctx context.Context, jobUUID string) func() {
	sampleCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		sampler := logging.NewProgressSampler(5)
		ticker := time.NewTicker(g.progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sampleCtx.Done():
				return
			case <-ticker.C:
			}
			percent, err := g.client.Progress(sampleCtx, jobUUID)
			if err != nil {
				g.logger.Debug("progress sample failed", logging.Error(err))
				continue
			}
			// Rendering covers the bulk of the job; the remainder belongs to
			// upload, tagging, and delivery confirmation.
			fraction := percent * 0.8
			if err := g.store.UpdateProgress(sampleCtx, jobUUID, fraction); err != nil {
				g.logger.Debug("progress write failed", logging.Error(err))
				continue
			}
			if sampler.ShouldLog(percent*100, "render") {
				g.logger.Info("render progress",
					logging.String(logging.FieldJobUUID, jobUUID),
					logging.Float64("percent", percent))
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
