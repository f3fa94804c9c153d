package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/notifications"
	"easel/internal/services"
)

// Worker is the single consumer of the job store. It polls for the next
// ready job, executes the processor bound to the job's current step, and
// applies the resulting transition. Processor errors never escape the worker;
// it is the sole authority for status transitions.
type Worker struct {
	cfg        *config.Config
	store      *jobs.Store
	registry   *Registry
	processors map[Capability]Processor
	logger     *slog.Logger
	notifier   notifications.Service
	owner      string

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	maxRetries         int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker constructs a worker bound to the given registry and processors.
func NewWorker(
	cfg *config.Config,
	store *jobs.Store,
	registry *Registry,
	processors map[Capability]Processor,
	logger *slog.Logger,
	notifier notifications.Service,
) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "easel"
	}
	return &Worker{
		cfg:                cfg,
		store:              store,
		registry:           registry,
		processors:         processors,
		logger:             logging.NewComponentLogger(logger, "worker"),
		notifier:           notifier,
		owner:              fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		pollInterval:       time.Duration(cfg.Worker.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Worker.ErrorRetryInterval) * time.Second,
		maxRetries:         cfg.Worker.MaxRetries,
	}
}

// Start releases jobs stranded by a previous crash and begins polling.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	w.mu.Unlock()

	if err := w.ReleaseStranded(runCtx); err != nil {
		w.logger.Warn("release of stranded jobs failed; stuck jobs may remain",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"))
	}

	go w.run(runCtx)
	return nil
}

// Stop terminates polling and waits for the in-flight attempt to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

// ReleaseStranded returns jobs left mid-attempt by a previous process to
// their owning ready states and clears dead leases. Start runs this before
// polling begins.
func (w *Worker) ReleaseStranded(ctx context.Context) error {
	for _, name := range w.registry.Workflows() {
		released, err := w.store.ReleaseStuck(ctx, name, w.registry.StuckRemap(name))
		if err != nil {
			return err
		}
		if released > 0 {
			w.logger.Info("released jobs stranded mid-attempt",
				logging.String(logging.FieldWorkflow, name),
				logging.Int64("released", released))
		}
	}
	if _, err := w.store.ReleaseDeadLeases(ctx); err != nil {
		return err
	}
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.ProcessNext(ctx, time.Now())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to lease next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "lease_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"))
			w.sleep(ctx, w.errorRetryInterval)
			continue
		}
		if !processed {
			w.sleep(ctx, w.pollInterval)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// ProcessNext leases and processes at most one job that is ready at the given
// time. It reports whether a job was processed. Errors are returned only for
// store-level failures; processor and configuration failures are absorbed
// into job transitions.
func (w *Worker) ProcessNext(ctx context.Context, now time.Time) (bool, error) {
	job, err := w.store.GetNextReady(ctx, now, w.owner)
	if errors.Is(err, jobs.ErrNoReadyJobs) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	w.processJob(ctx, job)
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *jobs.Job) {
	jobCtx := services.WithJobUUID(ctx, job.UUID)
	jobCtx = services.WithWorkflow(jobCtx, job.Workflow)
	jobCtx = services.WithRequestID(jobCtx, uuid.NewString())
	logger := logging.WithContext(jobCtx, w.logger)

	step, err := w.registry.StepFor(job.Workflow, job.Status)
	if err != nil {
		// The job can never progress on its own; escalate without invoking
		// any processor.
		w.failTerminal(jobCtx, logger, job, err)
		return
	}
	processor, ok := w.processors[step.Process]
	if !ok {
		w.failTerminal(jobCtx, logger, job, services.Wrap(
			services.ErrConfiguration,
			string(step.Process),
			"dispatch",
			"no processor bound to capability",
			nil,
		))
		return
	}

	preAttempt := job.Status
	if err := w.store.UpdateStatus(jobCtx, job.UUID, jobs.Status(step.Process)); err != nil {
		if errors.Is(err, jobs.ErrTerminalStatus) {
			// Canceled between lease and attempt; nothing to run.
			logger.Debug("job reached a terminal status before the attempt started")
			return
		}
		logger.Error("failed to mark job in flight", logging.Error(err))
		return
	}

	jobCtx = services.WithCapability(jobCtx, string(step.Process))
	logger = logging.WithContext(jobCtx, w.logger)
	start := time.Now()
	logger.Info("step started",
		logging.String(logging.FieldEventType, "step_start"),
		logging.String(logging.FieldStatus, string(preAttempt)))

	payload, procErr := processor.Process(jobCtx, job)
	if procErr != nil {
		if errors.Is(procErr, context.Canceled) && ctx.Err() != nil {
			// Shutdown mid-attempt: leave the capability marker in place for
			// the startup release pass.
			logger.Debug("step interrupted by shutdown")
			return
		}
		w.handleFailure(jobCtx, logger, job, step, preAttempt, procErr)
		return
	}
	w.applySuccess(jobCtx, logger, job, step, payload, start)
}

func (w *Worker) applySuccess(ctx context.Context, logger *slog.Logger, job *jobs.Job, step Step, payload jobs.Payload, start time.Time) {
	current, err := w.store.Get(ctx, job.UUID)
	if err != nil {
		logger.Error("failed to re-read job before success transition", logging.Error(err))
		return
	}
	if current.Status.IsTerminal() {
		// Canceled (or otherwise finished) while the attempt was in flight.
		// The stored status wins and the result is discarded.
		logger.Info("discarding result for terminal job",
			logging.String(logging.FieldEventType, "result_discarded"),
			logging.String(logging.FieldStatus, string(current.Status)))
		return
	}

	update := jobs.Update{Status: &step.Success}
	if len(payload) > 0 {
		merged, mergeErr := jobs.MergePayload(current.Result, payload)
		if mergeErr != nil {
			w.handleFailure(ctx, logger, job, step, job.Status, mergeErr)
			return
		}
		update.Result = &merged
	}
	// A job entering the webhook delivery state is pinned at 0.9: the work
	// itself is done and the remaining fraction is confirmation. Other
	// intermediate transitions keep whatever the processor last reported.
	if !step.Success.IsTerminal() {
		if next, err := w.registry.StepFor(job.Workflow, step.Success); err == nil && next.Process == CapabilityDeliverWebhook {
			hold := 0.9
			update.Progress = &hold
		}
	}

	// Status advance and retry reset land in one statement so no intermediate
	// state is ever visible.
	update.ClearRetries = true
	if err := w.store.Apply(ctx, job.UUID, update); err != nil {
		if errors.Is(err, jobs.ErrTerminalStatus) {
			logger.Info("discarding result for terminal job",
				logging.String(logging.FieldEventType, "result_discarded"))
			return
		}
		logger.Error("failed to persist success transition", logging.Error(err))
		return
	}

	logger.Info("step completed",
		logging.String(logging.FieldEventType, "step_complete"),
		logging.String("next_status", string(step.Success)),
		logging.Duration("step_duration", time.Since(start)))

	if step.Success == jobs.StatusCompleted {
		if err := w.notifier.NotifyJobCompleted(ctx, job.Workflow, job.UUID); err != nil {
			logger.Warn("completion notification failed", logging.Error(err))
		}
	}
}

func (w *Worker) handleFailure(ctx context.Context, logger *slog.Logger, job *jobs.Job, step Step, preAttempt jobs.Status, procErr error) {
	if services.IsUnrecoverable(procErr) || errors.Is(procErr, services.ErrConfiguration) {
		w.failTerminal(ctx, logger, job, procErr)
		return
	}
	if job.RetryCount >= w.maxRetries {
		w.failTerminal(ctx, logger, job, fmt.Errorf("retry ceiling %d reached: %w", w.maxRetries, procErr))
		return
	}

	message := procErr.Error()
	if !step.SkipFailureCounter {
		if err := w.store.IncrementFailureCounter(ctx, job.UUID, message); err != nil {
			if errors.Is(err, jobs.ErrTerminalStatus) {
				// Canceled while the attempt was in flight. The stored status
				// wins and the failure is discarded.
				logger.Info("discarding failure for terminal job",
					logging.String(logging.FieldEventType, "failure_discarded"))
				return
			}
			logger.Error("failed to record failure attempt", logging.Error(err))
		}
	}

	target := step.Failure
	if target == "" {
		target = preAttempt
	}
	if err := w.store.Apply(ctx, job.UUID, jobs.Update{Status: &target, ErrorMessage: &message}); err != nil {
		if errors.Is(err, jobs.ErrTerminalStatus) {
			logger.Info("discarding failure for terminal job",
				logging.String(logging.FieldEventType, "failure_discarded"))
			return
		}
		logger.Error("failed to persist failure transition", logging.Error(err))
		return
	}

	logger.Warn("step failed, rescheduled",
		logging.Error(procErr),
		logging.String(logging.FieldEventType, "step_failure"),
		logging.String("failure_status", string(target)),
		logging.Int("retry_count", job.RetryCount+1))
}

func (w *Worker) failTerminal(ctx context.Context, logger *slog.Logger, job *jobs.Job, cause error) {
	message := cause.Error()
	status := jobs.StatusError
	if err := w.store.Apply(ctx, job.UUID, jobs.Update{Status: &status, ErrorMessage: &message}); err != nil {
		if errors.Is(err, jobs.ErrTerminalStatus) {
			logger.Info("discarding failure for terminal job",
				logging.String(logging.FieldEventType, "failure_discarded"))
			return
		}
		logger.Error("failed to persist terminal failure", logging.Error(err))
		return
	}
	logger.Error("job failed terminally",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "job_failed"))
	if err := w.notifier.NotifyJobFailed(ctx, job.Workflow, job.UUID, message); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
}
