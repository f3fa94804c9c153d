package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates that no job exists for the requested identifier.
	ErrNotFound = errors.New("job not found")
	// ErrNoReadyJobs indicates that no job is currently eligible for leasing.
	ErrNoReadyJobs = errors.New("no jobs ready")
	// ErrTerminalStatus indicates an attempted mutation of a finished job.
	ErrTerminalStatus = errors.New("job already in terminal status")
)

const jobColumns = "uuid, workflow, status, progress, request_json, result_json, error_message, webhook_url, webhook_key, retry_count, last_retry, created_at, updated_at, completed_at, leased_at, lease_owner"

// timeLayout is RFC3339 with a fixed nine-digit fraction. RFC3339Nano trims
// trailing zeros, which breaks lexicographic ordering of stored text
// timestamps; a fixed width keeps text order identical to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

const terminalGuard = ` AND status NOT IN ('completed', 'error', 'canceled')`

// CreateParams carries the creation-time fields of a job. Everything else is
// assigned by the store.
type CreateParams struct {
	Workflow   string
	Request    string
	WebhookURL string
	WebhookKey string
}

// Create inserts a new pending job and returns the stored record.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Job, error) {
	if strings.TrimSpace(params.Workflow) == "" {
		return nil, errors.New("workflow is required")
	}
	id := uuid.NewString()
	timestamp := formatTimestamp(time.Now())

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            uuid, workflow, status, progress, request_json,
            webhook_url, webhook_key, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		params.Workflow,
		StatusPending,
		0.0,
		nullableString(params.Request),
		nullableString(params.WebhookURL),
		nullableString(params.WebhookKey),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.Get(ctx, id)
}

// Get fetches a job by uuid. Returns ErrNotFound when no such job exists.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE uuid = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update describes a restricted set of mutable job fields. Nil pointers leave
// the stored value untouched. ClearRetries resets the failure bookkeeping in
// the same statement as the rest of the update.
type Update struct {
	Status       *Status
	Progress     *float64
	Result       *string
	ErrorMessage *string
	ClearRetries bool
}

// Apply persists an allow-listed update. A write that sets a terminal status
// forces progress to 1 and stamps completed_at regardless of caller input,
// and any status write releases the lease. Jobs already in a terminal status
// are immutable: Apply refuses the write and returns ErrTerminalStatus.
func (s *Store) Apply(ctx context.Context, id string, update Update) error {
	timestamp := formatTimestamp(time.Now())

	clauses := make([]string, 0, 8)
	args := make([]any, 0, 8)

	if update.Status != nil {
		clauses = append(clauses, "status = ?", "leased_at = NULL", "lease_owner = NULL")
		args = append(args, string(*update.Status))
		if update.Status.IsTerminal() {
			clauses = append(clauses, "progress = 1.0", "completed_at = ?")
			args = append(args, timestamp)
		}
	}
	if update.Progress != nil && (update.Status == nil || !update.Status.IsTerminal()) {
		clauses = append(clauses, "progress = ?")
		args = append(args, *update.Progress)
	}
	if update.Result != nil {
		clauses = append(clauses, "result_json = ?")
		args = append(args, nullableString(*update.Result))
	}
	if update.ClearRetries {
		clauses = append(clauses, "retry_count = 0", "last_retry = NULL", "error_message = NULL")
	} else if update.ErrorMessage != nil {
		clauses = append(clauses, "error_message = ?")
		args = append(args, nullableString(*update.ErrorMessage))
	}
	if len(clauses) == 0 {
		return nil
	}

	clauses = append(clauses, "updated_at = ?")
	args = append(args, timestamp, id)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET `+strings.Join(clauses, ", ")+` WHERE uuid = ?`+terminalGuard,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrTerminalStatus
}

// UpdateStatus sets only the job status, releasing any held lease.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	return s.Apply(ctx, id, Update{Status: &status})
}

// UpdateProgress sets only the progress fraction. It deliberately does not
// touch the lease so a processor can tick progress mid-attempt. Terminal jobs
// keep their forced progress and report ErrTerminalStatus.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress float64) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE uuid = ?`+terminalGuard,
		progress,
		formatTimestamp(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrTerminalStatus
}

// ResetRetries clears the failure bookkeeping after a successful attempt.
func (s *Store) ResetRetries(ctx context.Context, id string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET retry_count = 0, last_retry = NULL, error_message = NULL, updated_at = ? WHERE uuid = ?`+terminalGuard,
		formatTimestamp(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("reset retries: %w", err)
	}
	return nil
}

// IncrementFailureCounter bumps retry_count and stamps last_retry in a single
// statement. The status and lease are left untouched; the caller follows up
// with the status write that routes the job to its failure state. A job that
// reached a terminal status in the meantime is left alone and reported as
// ErrTerminalStatus.
func (s *Store) IncrementFailureCounter(ctx context.Context, id string, message string) error {
	timestamp := formatTimestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET retry_count = retry_count + 1, last_retry = ?, error_message = ?, updated_at = ?
         WHERE uuid = ?`+terminalGuard,
		timestamp,
		nullableString(message),
		timestamp,
		id,
	)
	if err != nil {
		return fmt.Errorf("increment failure counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrTerminalStatus
}

// Cancel marks a non-terminal job canceled. Returns ErrTerminalStatus when
// the job already finished and ErrNotFound when it does not exist.
func (s *Store) Cancel(ctx context.Context, id string) error {
	now := formatTimestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress = 1.0, completed_at = ?, updated_at = ?,
             leased_at = NULL, lease_owner = NULL
         WHERE uuid = ? AND status NOT IN (?, ?, ?)`,
		StatusCanceled,
		now,
		now,
		id,
		StatusCompleted,
		StatusError,
		StatusCanceled,
	)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrTerminalStatus
}

// GetNextReady atomically leases the oldest eligible job: ready, due at or
// before now, and not already leased. The claim and the visibility of the
// claim are one statement so two workers can never hold the same job.
// Returns ErrNoReadyJobs when nothing is eligible.
func (s *Store) GetNextReady(ctx context.Context, now time.Time, owner string) (*Job, error) {
	ctx = ensureContext(ctx)
	timestamp := formatTimestamp(now)

	// Contending leasers hit SQLITE_BUSY on the write lock; losers must land
	// on ErrNoReadyJobs, not a raw busy error, so the claim goes through the
	// same busy-retry loop as every other write.
	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE jobs
             SET leased_at = ?, lease_owner = ?, updated_at = ?
             WHERE uuid = (
                 SELECT uuid FROM jobs
                 WHERE ready = 1 AND ready_at <= ? AND leased_at IS NULL
                 ORDER BY created_at, uuid
                 LIMIT 1
             ) AND leased_at IS NULL
             RETURNING `+jobColumns,
			timestamp,
			nullableString(owner),
			timestamp,
			now.UTC().Unix(),
		)
		scanned, err := scanJob(row)
		if err != nil {
			return err
		}
		job = scanned
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoReadyJobs
	}
	if err != nil {
		return nil, fmt.Errorf("lease next ready job: %w", err)
	}
	return job, nil
}

// ReleaseStuck returns jobs of one workflow stranded mid-attempt by a crashed
// worker to the supplied owning state and drops their leases. The remap keys
// are the capability-name statuses a worker writes while an attempt is in
// flight.
func (s *Store) ReleaseStuck(ctx context.Context, workflow string, remap map[Status]Status) (int64, error) {
	var total int64
	now := formatTimestamp(time.Now())
	for from, to := range remap {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs
             SET status = ?, leased_at = NULL, lease_owner = NULL, updated_at = ?
             WHERE workflow = ? AND status = ?`,
			to,
			now,
			workflow,
			from,
		)
		if err != nil {
			return total, fmt.Errorf("release stuck %s: %w", from, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

// ReleaseDeadLeases drops leases on still-ready jobs. A crash between the
// lease claim and the in-flight status write leaves exactly this shape.
func (s *Store) ReleaseDeadLeases(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET leased_at = NULL, lease_owner = NULL, updated_at = ?
         WHERE leased_at IS NOT NULL AND ready = 1`,
		formatTimestamp(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("release dead leases: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, uuid`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var items []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, job)
	}
	return items, rows.Err()
}

// RecentFailures returns the most recently finished terminal-error jobs.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY completed_at DESC, uuid LIMIT ?`,
		StatusError,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer rows.Close()

	var items []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, job)
	}
	return items, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusCompleted:
			health.Completed += count
		case StatusError:
			health.Errored += count
		case StatusCanceled:
			health.Canceled += count
		default:
			if status.IsReady() {
				health.Ready += count
			} else {
				health.InFlight += count
			}
		}
	}
	return health, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		workflow     string
		statusStr    string
		progress     sql.NullFloat64
		request      sql.NullString
		result       sql.NullString
		errorMessage sql.NullString
		webhookURL   sql.NullString
		webhookKey   sql.NullString
		retryCount   sql.NullInt64
		lastRetryRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		completedRaw sql.NullString
		leasedRaw    sql.NullString
		leaseOwner   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&workflow,
		&statusStr,
		&progress,
		&request,
		&result,
		&errorMessage,
		&webhookURL,
		&webhookKey,
		&retryCount,
		&lastRetryRaw,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&leasedRaw,
		&leaseOwner,
	); err != nil {
		return nil, err
	}

	job := &Job{
		UUID:         id,
		Workflow:     workflow,
		Status:       Status(statusStr),
		Progress:     progress.Float64,
		Request:      request.String,
		Result:       result.String,
		ErrorMessage: errorMessage.String,
		WebhookURL:   webhookURL.String,
		WebhookKey:   webhookKey.String,
		RetryCount:   int(retryCount.Int64),
		LeaseOwner:   leaseOwner.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if lastRetryRaw.Valid {
		if retry, err := parseTimeString(lastRetryRaw.String); err == nil {
			job.LastRetry = &retry
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	if leasedRaw.Valid {
		if leased, err := parseTimeString(leasedRaw.String); err == nil {
			job.LeasedAt = &leased
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
