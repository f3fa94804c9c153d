package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/services"
	"easel/internal/testsupport"
	"easel/internal/workflow"
)

type recordingNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (n *recordingNotifier) NotifyJobCompleted(_ context.Context, _ string, jobUUID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, jobUUID)
	return nil
}

func (n *recordingNotifier) NotifyJobFailed(_ context.Context, _ string, jobUUID string, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, jobUUID)
	return nil
}

func (n *recordingNotifier) NotifyDaemonStarted(context.Context) error { return nil }
func (n *recordingNotifier) TestNotification(context.Context) error    { return nil }

func newWorker(t *testing.T, cfg *config.Config, store *jobs.Store, processors map[workflow.Capability]workflow.Processor) (*workflow.Worker, *recordingNotifier) {
	t.Helper()

	registry, err := workflow.Builtin()
	if err != nil {
		t.Fatalf("Builtin failed: %v", err)
	}
	notifier := &recordingNotifier{}
	return workflow.NewWorker(cfg, store, registry, processors, logging.NewNop(), notifier), notifier
}

func succeed(payload jobs.Payload) workflow.Processor {
	return workflow.ProcessorFunc(func(context.Context, *jobs.Job) (jobs.Payload, error) {
		return payload, nil
	})
}

func TestWorkerAdvancesJobToCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	worker, notifier := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityNoOp:           succeed(jobs.Payload{"noop": true}),
		workflow.CapabilityDeliverWebhook: succeed(nil),
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "passthrough", `{"echo":"hello"}`)

	processed, err := worker.ProcessNext(ctx, time.Now())
	if err != nil || !processed {
		t.Fatalf("ProcessNext = %v, %v", processed, err)
	}
	held, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if held.Status != jobs.Status("ready-for-delivery") {
		t.Fatalf("expected ready-for-delivery, got %s", held.Status)
	}
	if held.Progress != 0.9 {
		t.Fatalf("expected confirmation hold at 0.9, got %f", held.Progress)
	}

	processed, err = worker.ProcessNext(ctx, time.Now())
	if err != nil || !processed {
		t.Fatalf("ProcessNext = %v, %v", processed, err)
	}
	done, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.Progress != 1.0 || done.CompletedAt == nil {
		t.Fatal("expected terminal forcing on completion")
	}
	if len(notifier.completed) != 1 || notifier.completed[0] != job.UUID {
		t.Fatalf("expected completion notification, got %v", notifier.completed)
	}

	processed, err = worker.ProcessNext(ctx, time.Now())
	if err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	if processed {
		t.Fatal("expected no further work for terminal job")
	}
}

func TestWebhookFailuresKeepJobNonTerminalUntilConfirmed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var attempts int
	deliver := workflow.ProcessorFunc(func(context.Context, *jobs.Job) (jobs.Payload, error) {
		attempts++
		if attempts <= 3 {
			return nil, services.Wrap(services.ErrTransient, "deliver-webhook", "post", "endpoint returned 500", nil)
		}
		return nil, nil
	})
	worker, _ := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityNoOp:           succeed(nil),
		workflow.CapabilityDeliverWebhook: deliver,
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "passthrough", "{}")

	base := time.Now()
	if _, err := worker.ProcessNext(ctx, base); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}

	// Three failing delivery cycles, each due after the doubled backoff.
	for cycle := 1; cycle <= 3; cycle++ {
		processed, err := worker.ProcessNext(ctx, base.Add(time.Duration(cycle)*time.Hour))
		if err != nil || !processed {
			t.Fatalf("cycle %d: ProcessNext = %v, %v", cycle, processed, err)
		}
		current, err := store.Get(ctx, job.UUID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if current.Status != jobs.Status("ready-for-delivery") {
			t.Fatalf("cycle %d: expected non-terminal holding state, got %s", cycle, current.Status)
		}
		if current.RetryCount != cycle {
			t.Fatalf("cycle %d: expected retry_count %d, got %d", cycle, cycle, current.RetryCount)
		}
	}

	processed, err := worker.ProcessNext(ctx, base.Add(4*time.Hour))
	if err != nil || !processed {
		t.Fatalf("confirmation cycle: ProcessNext = %v, %v", processed, err)
	}
	done, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed after confirmation, got %s", done.Status)
	}
	if done.RetryCount != 0 {
		t.Fatalf("expected retry bookkeeping reset, got %d", done.RetryCount)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 delivery attempts, got %d", attempts)
	}
}

func TestUnrecoverableFailureBypassesRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	generate := workflow.ProcessorFunc(func(context.Context, *jobs.Job) (jobs.Payload, error) {
		return nil, services.Wrap(services.ErrValidation, "generate", "render", "prompt rejected", nil)
	})
	worker, notifier := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityGenerate: generate,
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "image-generation", "{}")

	if _, err := worker.ProcessNext(ctx, time.Now()); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}

	failed, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != jobs.StatusError {
		t.Fatalf("expected terminal error, got %s", failed.Status)
	}
	if failed.RetryCount != 0 {
		t.Fatalf("expected no retry scheduled, got retry_count %d", failed.RetryCount)
	}
	if failed.CompletedAt == nil || failed.Progress != 1.0 {
		t.Fatal("expected terminal forcing")
	}
	if failed.ErrorMessage == "" {
		t.Fatal("expected failure message retained")
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("expected failure notification, got %v", notifier.failed)
	}
}

func TestRetryCeilingEscalatesToTerminalError(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(2))
	store := testsupport.MustOpenStore(t, cfg)

	var attempts int
	generate := workflow.ProcessorFunc(func(context.Context, *jobs.Job) (jobs.Payload, error) {
		attempts++
		return nil, services.Wrap(services.ErrTransient, "generate", "render", "backend unavailable", nil)
	})
	worker, _ := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityGenerate: generate,
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "image-generation", "{}")

	base := time.Now()
	for cycle := 0; cycle < 3; cycle++ {
		processed, err := worker.ProcessNext(ctx, base.Add(time.Duration(cycle)*time.Hour))
		if err != nil || !processed {
			t.Fatalf("cycle %d: ProcessNext = %v, %v", cycle, processed, err)
		}
	}

	failed, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != jobs.StatusError {
		t.Fatalf("expected terminal error at ceiling, got %s", failed.Status)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (2 retries + escalation), got %d", attempts)
	}
}

func TestUnknownWorkflowEscalatesWithoutInvokingProcessor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var invoked bool
	worker, notifier := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityGenerate: workflow.ProcessorFunc(func(context.Context, *jobs.Job) (jobs.Payload, error) {
			invoked = true
			return nil, nil
		}),
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "mystery", "{}")

	processed, err := worker.ProcessNext(ctx, time.Now())
	if err != nil || !processed {
		t.Fatalf("ProcessNext = %v, %v", processed, err)
	}
	if invoked {
		t.Fatal("expected no processor invocation for unknown workflow")
	}

	failed, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != jobs.StatusError {
		t.Fatalf("expected terminal error, got %s", failed.Status)
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("expected failure notification, got %v", notifier.failed)
	}
}

func TestMissingProcessorIsConfigurationFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	worker, _ := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "image-generation", "{}")

	if _, err := worker.ProcessNext(ctx, time.Now()); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	failed, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != jobs.StatusError {
		t.Fatalf("expected terminal error, got %s", failed.Status)
	}
}

func TestCancellationDiscardsInFlightResult(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	generate := workflow.ProcessorFunc(func(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
		// The job is canceled while the attempt is in flight; the processor
		// still finishes and returns a result.
		if err := store.Cancel(ctx, job.UUID); err != nil {
			t.Errorf("Cancel failed: %v", err)
		}
		return jobs.Payload{"image_id": "img-1"}, nil
	})
	worker, _ := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityGenerate: generate,
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "image-generation", "{}")

	if _, err := worker.ProcessNext(ctx, time.Now()); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}

	canceled, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if canceled.Status != jobs.StatusCanceled {
		t.Fatalf("expected canceled to win, got %s", canceled.Status)
	}
	if canceled.Result != "" {
		t.Fatalf("expected in-flight result discarded, got %s", canceled.Result)
	}
}

func TestCancellationDiscardsInFlightFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	generate := workflow.ProcessorFunc(func(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
		// The job is canceled while the attempt is in flight; the processor
		// then fails. The failure must not reschedule the canceled job.
		if err := store.Cancel(ctx, job.UUID); err != nil {
			t.Errorf("Cancel failed: %v", err)
		}
		return nil, services.Wrap(services.ErrTransient, "generate", "render", "backend unavailable", nil)
	})
	worker, notifier := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityGenerate: generate,
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "image-generation", "{}")

	if _, err := worker.ProcessNext(ctx, time.Now()); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}

	canceled, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if canceled.Status != jobs.StatusCanceled {
		t.Fatalf("expected canceled to win, got %s", canceled.Status)
	}
	if canceled.RetryCount != 0 || canceled.LastRetry != nil || canceled.ErrorMessage != "" {
		t.Fatalf("expected no failure bookkeeping on canceled job, got %#v", canceled)
	}
	if canceled.Progress != 1.0 || canceled.CompletedAt == nil {
		t.Fatal("expected terminal forcing preserved")
	}

	if _, err := worker.ProcessNext(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	still, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if still.Status != jobs.StatusCanceled {
		t.Fatalf("expected canceled job to stay canceled, got %s", still.Status)
	}
	if len(notifier.failed) != 0 {
		t.Fatalf("expected no failure notification, got %v", notifier.failed)
	}
}

func TestCancellationSuppressesTerminalFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	generate := workflow.ProcessorFunc(func(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
		if err := store.Cancel(ctx, job.UUID); err != nil {
			t.Errorf("Cancel failed: %v", err)
		}
		return nil, services.Wrap(services.ErrValidation, "generate", "render", "prompt rejected", nil)
	})
	worker, notifier := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityGenerate: generate,
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "image-generation", "{}")

	if _, err := worker.ProcessNext(ctx, time.Now()); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}

	canceled, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if canceled.Status != jobs.StatusCanceled {
		t.Fatalf("expected canceled to win over terminal error, got %s", canceled.Status)
	}
	if canceled.ErrorMessage != "" {
		t.Fatalf("expected no error message on canceled job, got %s", canceled.ErrorMessage)
	}
	if len(notifier.failed) != 0 {
		t.Fatalf("expected no failure notification for canceled job, got %v", notifier.failed)
	}
}

func TestRecoverableFailureReturnsToPreAttemptState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	generate := workflow.ProcessorFunc(func(context.Context, *jobs.Job) (jobs.Payload, error) {
		return nil, services.Wrap(services.ErrTransient, "generate", "render", "backend unavailable", nil)
	})
	worker, _ := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{
		workflow.CapabilityGenerate: generate,
	})

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "image-generation", "{}")

	if _, err := worker.ProcessNext(ctx, time.Now()); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}

	failed, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != jobs.StatusPending {
		t.Fatalf("expected return to pre-attempt state, got %s", failed.Status)
	}
	if failed.RetryCount != 1 || failed.LastRetry == nil {
		t.Fatalf("expected failure bookkeeping, got %#v", failed)
	}
	if failed.LeasedAt != nil {
		t.Fatal("expected lease released")
	}
}

func TestReleaseStrandedReturnsJobsToOwningState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "image-generation", "{}")
	if _, err := store.GetNextReady(ctx, time.Now(), "crashed-worker"); err != nil {
		t.Fatalf("GetNextReady failed: %v", err)
	}
	if err := store.UpdateStatus(ctx, job.UUID, jobs.Status(workflow.CapabilityGenerate)); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	worker, _ := newWorker(t, cfg, store, map[workflow.Capability]workflow.Processor{})
	if err := worker.ReleaseStranded(ctx); err != nil {
		t.Fatalf("ReleaseStranded failed: %v", err)
	}

	released, err := store.Get(ctx, job.UUID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if released.Status != jobs.StatusPending {
		t.Fatalf("expected stranded job released to pending, got %s", released.Status)
	}
}
