package processors_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/processors"
	"easel/internal/services"
	"easel/internal/services/tagmeta"
	"easel/internal/testsupport"
)

func TestNoOpEchoesRequest(t *testing.T) {
	processor := processors.NewNoOp()
	job := &jobs.Job{UUID: "j1", Request: `{"message":"hello","count":3}`}

	payload, err := processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if payload["message"] != "hello" {
		t.Fatalf("expected request echoed, got %#v", payload)
	}
}

func TestNoOpRejectsMalformedRequest(t *testing.T) {
	processor := processors.NewNoOp()
	job := &jobs.Job{UUID: "j1", Request: `{"broken`}

	if _, err := processor.Process(context.Background(), job); !services.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable error for malformed request, got %v", err)
	}
}

func TestDownloadAssetStagesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	processor := processors.NewDownloadAsset(cfg, logging.NewNop())

	request, _ := json.Marshal(map[string]string{"source_url": server.URL + "/assets/picture.png"})
	job := &jobs.Job{UUID: "j1", Request: string(request)}

	payload, err := processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	stagingPath, _ := payload["staging_path"].(string)
	if stagingPath == "" {
		t.Fatal("expected staging_path in payload")
	}
	data, err := os.ReadFile(stagingPath)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Fatalf("unexpected staged contents %q", data)
	}
	if payload["image_id"] != "picture" {
		t.Fatalf("unexpected image_id %v", payload["image_id"])
	}
}

func TestDownloadAssetRequiresSourceURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	processor := processors.NewDownloadAsset(cfg, logging.NewNop())
	job := &jobs.Job{UUID: "j1", Request: `{}`}

	if _, err := processor.Process(context.Background(), job); !services.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable validation error, got %v", err)
	}
}

func TestDownloadAssetClassifiesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not yet", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	processor := processors.NewDownloadAsset(cfg, logging.NewNop())
	request, _ := json.Marshal(map[string]string{"source_url": server.URL + "/a.png"})
	job := &jobs.Job{UUID: "j1", Request: string(request)}

	if _, err := processor.Process(context.Background(), job); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker for 502, got %v", err)
	}
}

func TestUploadMovesStagedFileIntoLibrary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	stagingPath := filepath.Join(cfg.Paths.StagingDir, "j1", "img-1.png")
	if err := os.MkdirAll(filepath.Dir(stagingPath), 0o755); err != nil {
		t.Fatalf("mkdir staging: %v", err)
	}
	if err := os.WriteFile(stagingPath, []byte("pixels"), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}

	processor := processors.NewUpload(cfg, logging.NewNop())
	result, _ := json.Marshal(map[string]string{"staging_path": stagingPath})
	job := &jobs.Job{UUID: "j1", Result: string(result)}

	payload, err := processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	libraryPath, _ := payload["library_path"].(string)
	if libraryPath != filepath.Join(cfg.Paths.LibraryDir, "j1.png") {
		t.Fatalf("unexpected library path %q", libraryPath)
	}
	if _, err := os.Stat(stagingPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staged file should be gone, stat err %v", err)
	}
	data, err := os.ReadFile(libraryPath)
	if err != nil || string(data) != "pixels" {
		t.Fatalf("library file contents %q err %v", data, err)
	}
}

func TestUploadMissingStagedFileIsUnrecoverable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	processor := processors.NewUpload(cfg, logging.NewNop())
	result, _ := json.Marshal(map[string]string{"staging_path": filepath.Join(cfg.Paths.StagingDir, "gone.png")})
	job := &jobs.Job{UUID: "j1", Result: string(result)}

	if _, err := processor.Process(context.Background(), job); !services.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable error, got %v", err)
	}
}

func TestTagAttachesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tagmeta.TagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode tag request: %v", err)
		}
		if req.ImageID != "img-1" || req.Prompt != "a lighthouse" {
			t.Errorf("unexpected request %#v", req)
		}
		json.NewEncoder(w).Encode(tagmeta.TagResult{Tags: []string{"sea"}, Caption: "caption"})
	}))
	defer server.Close()

	processor := processors.NewTag(tagmeta.NewClient(server.URL, ""), logging.NewNop())
	job := &jobs.Job{
		UUID:    "j1",
		Request: `{"prompt":"a lighthouse"}`,
		Result:  `{"image_id":"img-1","library_path":"/library/j1.png"}`,
	}

	payload, err := processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	tags, _ := payload["tags"].([]string)
	if len(tags) != 1 || tags[0] != "sea" {
		t.Fatalf("unexpected tags %#v", payload["tags"])
	}
	if payload["caption"] != "caption" {
		t.Fatalf("unexpected caption %v", payload["caption"])
	}
}

func TestTagRequiresImageIDInResult(t *testing.T) {
	processor := processors.NewTag(tagmeta.NewClient("http://localhost:0", ""), logging.NewNop())
	job := &jobs.Job{UUID: "j1", Result: `{}`}

	if _, err := processor.Process(context.Background(), job); !services.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable error, got %v", err)
	}
}

func TestDeliverWebhookWithoutTargetConfirmsImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	processor := processors.NewDeliverWebhook(cfg, logging.NewNop())
	job := &jobs.Job{UUID: "j1", Result: `{"library_path":"/library/j1.png"}`}

	payload, err := processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if payload != nil {
		t.Fatalf("expected nil payload, got %#v", payload)
	}
}

func TestDeliverWebhookPostsResultWithKey(t *testing.T) {
	var received map[string]any
	var key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("X-Easel-Key")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	processor := processors.NewDeliverWebhook(cfg, logging.NewNop())
	job := &jobs.Job{
		UUID:       "j1",
		Result:     `{"library_path":"/library/j1.png"}`,
		WebhookURL: server.URL,
		WebhookKey: "secret",
	}

	payload, err := processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if key != "secret" {
		t.Fatalf("expected webhook key header, got %q", key)
	}
	if received["library_path"] != "/library/j1.png" {
		t.Fatalf("unexpected webhook body %#v", received)
	}
	if _, ok := payload["delivered_at"]; !ok {
		t.Fatalf("expected delivered_at in payload, got %#v", payload)
	}
}

func TestDeliverWebhookNonSuccessIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	processor := processors.NewDeliverWebhook(cfg, logging.NewNop())
	job := &jobs.Job{UUID: "j1", WebhookURL: server.URL}

	if _, err := processor.Process(context.Background(), job); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker so delivery keeps retrying, got %v", err)
	}
}
