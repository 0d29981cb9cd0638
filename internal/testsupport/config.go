package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"fableforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Worker.URL = "http://127.0.0.1:0/hook"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWorkerURL points the test config at a specific worker endpoint.
func WithWorkerURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Worker.URL = url
	}
}

// WithStageCost overrides the cost of one stage.
func WithStageCost(stage string, cost int64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Credits.Costs[stage] = cost
	}
}

// Now returns a stable timestamp for inserts in tests.
func Now() time.Time {
	return time.Now().UTC()
}
