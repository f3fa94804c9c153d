package processors_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"easel/internal/logging"
	"easel/internal/processors"
	"easel/internal/services"
	"easel/internal/services/imagegen"
	"easel/internal/testsupport"
)

func TestGenerateRendersAndStagesImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/generations":
			var req imagegen.GenerateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode generate request: %v", err)
			}
			if req.Prompt != "a lighthouse" {
				t.Errorf("unexpected prompt %q", req.Prompt)
			}
			json.NewEncoder(w).Encode(imagegen.GenerateResult{ImageID: "img-1", Format: "png", Seed: 42})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/images/"):
			w.Write([]byte("pixels"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithImageGen(server.URL, "key"))
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "image-generation", `{"prompt":"a lighthouse"}`)

	client := imagegen.NewClient(server.URL, "key")
	processor := processors.NewGenerate(cfg, client, store, logging.NewNop())

	payload, err := processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if payload["image_id"] != "img-1" || payload["format"] != "png" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	stagingPath, _ := payload["staging_path"].(string)
	data, err := os.ReadFile(stagingPath)
	if err != nil || string(data) != "pixels" {
		t.Fatalf("staged image contents %q err %v", data, err)
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "image-generation", `{}`)

	client := imagegen.NewClient("http://localhost:0", "")
	processor := processors.NewGenerate(cfg, client, store, logging.NewNop())

	if _, err := processor.Process(context.Background(), job); !services.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable validation error, got %v", err)
	}
}
