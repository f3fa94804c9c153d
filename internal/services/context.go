package services

import "context"

type contextKey string

const (
	jobUUIDKey    contextKey = "job_uuid"
	workflowKey   contextKey = "workflow"
	capabilityKey contextKey = "capability"
	requestIDKey  contextKey = "request_id"
)

// WithJobUUID annotates context with the job identifier.
func WithJobUUID(ctx context.Context, uuid string) context.Context {
	if uuid == "" {
		return ctx
	}
	return context.WithValue(ctx, jobUUIDKey, uuid)
}

// JobUUIDFromContext extracts the job identifier if present.
func JobUUIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobUUIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorkflow annotates context with the workflow name.
func WithWorkflow(ctx context.Context, workflow string) context.Context {
	if workflow == "" {
		return ctx
	}
	return context.WithValue(ctx, workflowKey, workflow)
}

// WorkflowFromContext returns the workflow name if present.
func WorkflowFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workflowKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCapability annotates context with the processor capability in flight.
func WithCapability(ctx context.Context, capability string) context.Context {
	if capability == "" {
		return ctx
	}
	return context.WithValue(ctx, capabilityKey, capability)
}

// CapabilityFromContext returns the capability name if present.
func CapabilityFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(capabilityKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
