package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/equipment-availability/internal/persistence/sqlite"
)

// SQLiteHarness provides a migrated reservation store backed by a temporary
// SQLite file for integration-style persistence tests.
type SQLiteHarness struct {
	Storage *sqlite.Storage
	Path    string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a store in tb.TempDir(). Callers may invoke Close,
// but the helper also registers a cleanup callback with tb.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "availability.db")
	storage, err := sqlite.Open(context.Background(), "file:"+path, sqlite.DefaultOptions())
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage: storage,
		Path:    path,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
