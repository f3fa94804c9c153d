package api

import (
	"encoding/json"
	"time"

	"easel/internal/jobs"
)

// CreateJobRequest is the submission body for POST /api/jobs.
type CreateJobRequest struct {
	Workflow   string          `json:"workflow"`
	Request    json.RawMessage `json:"request,omitempty"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	WebhookKey string          `json:"webhook_key,omitempty"`
}

// JobView is the wire representation of a job record.
type JobView struct {
	UUID         string          `json:"uuid"`
	Workflow     string          `json:"workflow"`
	Status       string          `json:"status"`
	Progress     float64         `json:"progress"`
	Request      json.RawMessage `json:"request,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	ReadyAt      *time.Time      `json:"ready_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// HealthResponse reports queue aggregates and migration ledger state.
type HealthResponse struct {
	Total      int               `json:"total"`
	Ready      int               `json:"ready"`
	InFlight   int               `json:"in_flight"`
	Completed  int               `json:"completed"`
	Errored    int               `json:"errored"`
	Canceled   int               `json:"canceled"`
	Migrations []MigrationStatus `json:"migrations"`
}

// MigrationStatus is one migration ledger entry on the wire.
type MigrationStatus struct {
	Name      string    `json:"name"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromJob converts a stored job into its wire form. Readiness timing is only
// reported while the job is still eligible for leasing.
func FromJob(job *jobs.Job) JobView {
	view := JobView{
		UUID:         job.UUID,
		Workflow:     job.Workflow,
		Status:       string(job.Status),
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Request != "" {
		view.Request = json.RawMessage(job.Request)
	}
	if job.Result != "" {
		view.Result = json.RawMessage(job.Result)
	}
	if job.Ready() {
		readyAt := job.ReadyAt()
		view.ReadyAt = &readyAt
	}
	return view
}

// FromJobs converts a slice of stored jobs.
func FromJobs(list []*jobs.Job) []JobView {
	views := make([]JobView, 0, len(list))
	for _, job := range list {
		views = append(views, FromJob(job))
	}
	return views
}
