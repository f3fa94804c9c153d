package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"easel/internal/api"
	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/notifications"
	"easel/internal/processors"
	"easel/internal/workflow"
)

// Daemon owns the worker and API server and enforces single-instance
// execution per data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	registry *workflow.Registry
	worker   *workflow.Worker
	server   *api.Server
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	registry, err := workflow.Builtin()
	if err != nil {
		return nil, fmt.Errorf("build workflow registry: %w", err)
	}
	notifier := notifications.NewService(cfg)
	worker := workflow.NewWorker(cfg, store, registry, processors.NewSet(cfg, store, logger), logger, notifier)

	lockPath := filepath.Join(cfg.Paths.DataDir, "easeld.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		registry: registry,
		worker:   worker,
		server:   api.NewServer(cfg, store, registry, logger),
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, releases stranded work, and launches the
// worker and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another easel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.worker.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker: %w", err)
	}
	if err := d.server.Start(runCtx); err != nil {
		d.worker.Stop()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("easel daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()))
	_ = d.notifier.NotifyDaemonStarted(runCtx)
	return nil
}

// Stop halts the worker and API server and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.worker.Stop()
	d.server.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("easel daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the API server's bound address once started.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// LockPath returns the instance lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}
