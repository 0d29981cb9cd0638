package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"fableforge/internal/config"
)

func TestDefaultsValidateWithWorkerURL(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.URL = "https://worker.example.com/generate"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with worker URL should validate: %v", err)
	}
	if cfg.StageCost("videos") != 40 {
		t.Fatalf("unexpected default videos cost: %d", cfg.StageCost("videos"))
	}
}

func TestLoadAppliesOverridesAndCostFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[worker]
url = "http://127.0.0.1:9999/hook"
max_attempts = 5

[credits.costs]
script = 99
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved == "" {
		t.Fatalf("expected config to resolve, got exists=%v path=%q", exists, resolved)
	}
	if cfg.Worker.MaxAttempts != 5 {
		t.Fatalf("expected worker.max_attempts override, got %d", cfg.Worker.MaxAttempts)
	}
	if cfg.StageCost("script") != 99 {
		t.Fatalf("expected script cost override, got %d", cfg.StageCost("script"))
	}
	// Stages not named in the override keep their defaults.
	if cfg.StageCost("brief") != 5 {
		t.Fatalf("expected brief cost fallback, got %d", cfg.StageCost("brief"))
	}
}

func TestLoadRejectsMissingWorkerURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for missing worker.url")
	}
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "[worker]\nurl = \"http://w.example\"\n\n[logging]\nformat = \"xml\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for unsupported log format")
	}
}
