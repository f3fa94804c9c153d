package processors

import (
	"context"
	"log/slog"

	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/services"
	"easel/internal/services/tagmeta"
)

// Tag enriches a filed image with tags and a caption from the metadata
// service.
type Tag struct {
	client *tagmeta.Client
	logger *slog.Logger
}

// NewTag constructs the tag processor.
func NewTag(client *tagmeta.Client, logger *slog.Logger) *Tag {
	return &Tag{
		client: client,
		logger: logging.NewComponentLogger(logger, "tag"),
	}
}

// Process requests metadata for the image filed by the upload step.
func (t *Tag) Process(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
	result, err := decodeObject("tag", "result", job.Result)
	if err != nil {
		return nil, err
	}
	imageID := stringField(result, "image_id")
	if imageID == "" {
		return nil, services.Wrap(services.ErrUnrecoverable, "tag", "enrich", "no image_id in result", nil)
	}
	request, err := decodeObject("tag", "request", job.Request)
	if err != nil {
		return nil, err
	}

	tagged, err := t.client.Tag(ctx, tagmeta.TagRequest{
		ImageID:     imageID,
		Prompt:      stringField(request, "prompt"),
		LibraryPath: stringField(result, "library_path"),
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("metadata attached",
		logging.String(logging.FieldJobUUID, job.UUID),
		logging.Int("tags", len(tagged.Tags)))

	return jobs.Payload{
		"tags":    tagged.Tags,
		"caption": tagged.Caption,
	}, nil
}
