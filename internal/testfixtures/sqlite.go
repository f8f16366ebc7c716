package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/classroom-attendance/internal/persistence/sqlstore"
)

// SQLiteHarness provides a migrated sqlstore backed by a temporary SQLite
// file for integration-style tests.
type SQLiteHarness struct {
	Store *sqlstore.Store
	Path  string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens and migrates a store in tb.TempDir. Callers may
// invoke Close early; a cleanup callback is registered either way.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "attendance.db")
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, sqlstore.Options{Driver: "sqlite", DSN: path})
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store: store,
		Path:  path,
		cleanup: func() {
			_ = store.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}
