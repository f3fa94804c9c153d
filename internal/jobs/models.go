package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle position of a job. The set is open: each
// workflow introduces its own intermediate state names, so only the terminal
// statuses and the readiness conventions are fixed here.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCanceled  Status = "canceled"
)

// ReadyPrefix marks intermediate states that are eligible for leasing.
const ReadyPrefix = "ready-for-"

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusError:     {},
	StatusCanceled:  {},
}

// IsTerminal reports whether a status admits no further workflow transitions.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsReady reports whether a status makes a job eligible for leasing once its
// ready_at time has passed.
func (s Status) IsReady() bool {
	return s == StatusPending || strings.HasPrefix(string(s), ReadyPrefix)
}

// Job represents one unit of queued work tracked from submission to a
// terminal outcome.
type Job struct {
	UUID         string
	Workflow     string
	Status       Status
	Progress     float64
	Request      string
	Result       string
	ErrorMessage string
	WebhookURL   string
	WebhookKey   string
	RetryCount   int
	LastRetry    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
	LeasedAt     *time.Time
	LeaseOwner   string
}

// Ready mirrors the stored readiness projection: true iff the status is
// "pending" or carries the ready-for- prefix.
func (j *Job) Ready() bool {
	return j.Status.IsReady()
}

// ReadyAt mirrors the stored due-time projection: creation time while the job
// has never failed, otherwise the last retry plus 2^retry_count minutes.
func (j *Job) ReadyAt() time.Time {
	if j.RetryCount == 0 || j.LastRetry == nil {
		return j.CreatedAt
	}
	return j.LastRetry.Add((1 << j.RetryCount) * time.Minute)
}

// Payload is an opaque JSON object exchanged between processors and the
// job record's request/result fields.
type Payload map[string]any

// MergePayload merges extra into the JSON object stored in existing and
// returns the re-encoded result. An empty existing value is treated as an
// empty object; keys in extra win.
func MergePayload(existing string, extra Payload) (string, error) {
	merged := make(map[string]any, len(extra))
	if trimmed := strings.TrimSpace(existing); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &merged); err != nil {
			return "", fmt.Errorf("decode stored result: %w", err)
		}
	}
	for key, value := range extra {
		merged[key] = value
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("encode merged result: %w", err)
	}
	return string(encoded), nil
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Ready     int
	InFlight  int
	Completed int
	Errored   int
	Canceled  int
}
