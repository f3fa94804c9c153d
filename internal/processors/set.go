package processors

import (
	"log/slog"
	"time"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/services/imagegen"
	"easel/internal/services/tagmeta"
	"easel/internal/workflow"
)

// NewSet wires every capability to its processor using the configured
// backends. The worker consults this map when executing steps.
func NewSet(cfg *config.Config, store *jobs.Store, logger *slog.Logger) map[workflow.Capability]workflow.Processor {
	imageClient := imagegen.NewClient(cfg.ImageGen.BaseURL, cfg.ImageGen.APIKey,
		imagegen.WithTimeout(time.Duration(cfg.ImageGen.RequestTimeout)*time.Second))
	tagClient := tagmeta.NewClient(cfg.TagMeta.BaseURL, cfg.TagMeta.APIKey,
		tagmeta.WithTimeout(time.Duration(cfg.TagMeta.RequestTimeout)*time.Second))

	return map[workflow.Capability]workflow.Processor{
		workflow.CapabilityGenerate:       NewGenerate(cfg, imageClient, store, logger),
		workflow.CapabilityDownloadAsset:  NewDownloadAsset(cfg, logger),
		workflow.CapabilityUpload:         NewUpload(cfg, logger),
		workflow.CapabilityTag:            NewTag(tagClient, logger),
		workflow.CapabilityDeliverWebhook: NewDeliverWebhook(cfg, logger),
		workflow.CapabilityNoOp:           NewNoOp(),
	}
}
