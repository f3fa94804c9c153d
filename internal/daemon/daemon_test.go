package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"easel/internal/daemon"
	"easel/internal/logging"
	"easel/internal/testsupport"
)

func TestDaemonStartServesAPIAndStops(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.Running() {
		t.Fatal("daemon should report running")
	}
	resp, err := http.Get("http://" + d.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}

	d.Stop()
	if d.Running() {
		t.Fatal("daemon should report stopped")
	}
}

func TestSecondInstanceIsRejectedByLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	defer first.Stop()

	cfg2 := *cfg
	cfg2.Paths.APIBind = "127.0.0.1:0"
	second, err := daemon.New(&cfg2, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New second: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail lock acquisition")
	}
}

func TestDoubleStartIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}
