package logging

import (
	"context"
	"log/slog"

	"easel/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobUUID is the standardized structured logging key for job identifiers.
	FieldJobUUID = "job_uuid"
	// FieldWorkflow is the standardized structured logging key for workflow names.
	FieldWorkflow = "workflow"
	// FieldCapability is the standardized structured logging key for the processor capability in flight.
	FieldCapability = "capability"
	// FieldStatus is the standardized structured logging key for job statuses.
	FieldStatus = "status"
	// FieldCorrelationID is the standardized structured logging key for per-attempt correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags log lines with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries a short operator-facing remediation hint.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobUUIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobUUID, id))
	}
	if wf, ok := services.WorkflowFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorkflow, wf))
	}
	if capability, ok := services.CapabilityFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCapability, capability))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
