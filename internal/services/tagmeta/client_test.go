package tagmeta_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"easel/internal/services"
	"easel/internal/services/tagmeta"
)

func TestTagRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req tagmeta.TagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ImageID != "img-1" {
			t.Errorf("unexpected image id %q", req.ImageID)
		}
		json.NewEncoder(w).Encode(tagmeta.TagResult{
			Tags:    []string{"lighthouse", "dusk"},
			Caption: "a lighthouse at dusk",
		})
	}))
	defer server.Close()

	client := tagmeta.NewClient(server.URL, "secret")
	result, err := client.Tag(context.Background(), tagmeta.TagRequest{ImageID: "img-1", Prompt: "a lighthouse at dusk"})
	if err != nil {
		t.Fatalf("Tag failed: %v", err)
	}
	if len(result.Tags) != 2 || result.Caption == "" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestTagRequiresImageID(t *testing.T) {
	client := tagmeta.NewClient("http://localhost:0", "")
	if _, err := client.Tag(context.Background(), tagmeta.TagRequest{}); !services.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable validation error, got %v", err)
	}
}

func TestTagServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := tagmeta.NewClient(server.URL, "")
	if _, err := client.Tag(context.Background(), tagmeta.TagRequest{ImageID: "img-1"}); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}
