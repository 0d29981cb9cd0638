// Package daemon ties the store, workflow manager, and HTTP API into a
// single lifecycle with flock-based locking to prevent multiple instances
// from sharing one database.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"fableforge/internal/api"
	"fableforge/internal/config"
	"fableforge/internal/livesync"
	"fableforge/internal/logging"
	"fableforge/internal/store"
	"fableforge/internal/worker"
	"fableforge/internal/workflow"
)

type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *store.DB
	hub     *livesync.Hub
	manager *workflow.Manager
	server  *http.Server

	lockPath string
	pidPath  string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	addr    atomic.Value
}

// New constructs the daemon with initialized dependencies.
func New(cfg *config.Config, db *store.DB, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || db == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	hub := livesync.NewHub(logger)
	dispatcher := worker.NewClient(cfg, logger)
	manager := workflow.NewManager(cfg, db, hub, dispatcher, logger)
	handler := api.New(cfg, manager, hub, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "fableforged.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		hub:      hub,
		manager:  manager,
		server:   &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		lockPath: lockPath,
		pidPath:  filepath.Join(cfg.Paths.DataDir, "fableforged.pid"),
		lock:     flock.New(lockPath),
	}, nil
}

// Manager exposes the workflow manager, mostly for tests.
func (d *Daemon) Manager() *workflow.Manager { return d.manager }

// Addr returns the bound API address once Start has succeeded.
func (d *Daemon) Addr() string {
	if v := d.addr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Start acquires the instance lock, binds the API listener, and launches
// the workflow loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fableforged instance is already running")
	}

	listener, err := net.Listen("tcp", d.cfg.Paths.APIBind)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("bind api listener: %w", err)
	}
	d.addr.Store(listener.Addr().String())

	if err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		d.logger.Warn("write pid file", logging.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.manager.Run(runCtx)
	go func() {
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("api server stopped", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("fableforged started",
		logging.String("addr", d.Addr()),
		logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts the API server down, stops the workflow loops, and releases
// the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown", logging.Error(err))
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	_ = os.Remove(d.pidPath)
	d.running.Store(false)
	d.logger.Info("fableforged stopped")
}

// Close stops the daemon and closes the database.
func (d *Daemon) Close() error {
	d.Stop()
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
