package testsupport

import (
	"context"
	"testing"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a job for tests using the provided store.
func NewJob(t testing.TB, store *jobs.Store, workflow, request string) *jobs.Job {
	t.Helper()

	job, err := store.Create(context.Background(), jobs.CreateParams{
		Workflow: workflow,
		Request:  request,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
