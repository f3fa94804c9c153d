package processors

import (
	"context"

	"easel/internal/jobs"
)

// NoOp copies the request payload into the result unchanged. The passthrough
// workflow uses it to exercise queueing and delivery without a backend.
type NoOp struct{}

// NewNoOp constructs the no-op processor.
func NewNoOp() *NoOp { return &NoOp{} }

// Process echoes the request fields into the result payload.
func (n *NoOp) Process(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
	request, err := decodeObject("no-op", "request", job.Request)
	if err != nil {
		return nil, err
	}
	payload := make(jobs.Payload, len(request))
	for key, value := range request {
		payload[key] = value
	}
	return payload, nil
}
