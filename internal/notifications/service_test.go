package notifications_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"easel/internal/config"
	"easel/internal/notifications"
)

func TestNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	service := notifications.NewService(&cfg)
	if err := service.NotifyJobFailed(context.Background(), "image-generation", "uuid-1", "boom"); err != nil {
		t.Fatalf("noop service returned error: %v", err)
	}
}

func TestNtfyHeadersAndBody(t *testing.T) {
	var (
		gotTitle    string
		gotPriority string
		gotBody     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		buf := make([]byte, 512)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	service := notifications.NewService(&cfg)

	if err := service.NotifyJobFailed(context.Background(), "image-generation", "uuid-1", "backend unavailable"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
	if gotTitle != "Easel - Job Failed" {
		t.Fatalf("unexpected title: %s", gotTitle)
	}
	if gotPriority != "high" {
		t.Fatalf("expected high priority, got %q", gotPriority)
	}
	if gotBody == "" {
		t.Fatal("expected notification body")
	}
}

func TestNtfyErrorStatusSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	service := notifications.NewService(&cfg)

	if err := service.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}
