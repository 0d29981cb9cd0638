package testsupport

import (
	"testing"

	"fableforge/internal/config"
	"fableforge/internal/store"
)

// MustOpenDB opens the SQLite database for a test config and closes it when
// the test ends.
func MustOpenDB(t testing.TB, cfg *config.Config) *store.DB {
	t.Helper()
	db, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
