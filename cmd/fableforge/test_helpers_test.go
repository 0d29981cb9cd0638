package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"fableforge/internal/api"
	"fableforge/internal/config"
	"fableforge/internal/livesync"
	"fableforge/internal/logging"
	"fableforge/internal/testsupport"
	"fableforge/internal/worker"
	"fableforge/internal/workflow"
)

type acceptAllDispatcher struct {
	mu       sync.Mutex
	requests []worker.GenerationRequest
}

func (d *acceptAllDispatcher) Dispatch(_ context.Context, req worker.GenerationRequest) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return 1, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	manager    *workflow.Manager
	server     *httptest.Server
	addr       string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)

	logger := logging.NewNop()
	hub := livesync.NewHub(logger)
	manager := workflow.NewManager(cfg, db, hub, &acceptAllDispatcher{}, logger)
	server := httptest.NewServer(api.New(cfg, manager, hub, logger))
	t.Cleanup(server.Close)

	configPath := filepath.Join(homeDir, ".config", "fableforge", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		manager:    manager,
		server:     server,
		addr:       server.Listener.Addr().String(),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--addr", env.addr, "--config", env.configPath}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\napi_bind = %q\n\n[worker]\nurl = %q\n",
		cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.APIBind, cfg.Worker.URL,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !bytes.Contains([]byte(haystack), []byte(needle)) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}
