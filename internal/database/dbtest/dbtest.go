// Package dbtest opens throwaway stores for repository and service tests.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
)

// OpenSQLite opens a migrated SQLite store in a temporary directory
func OpenSQLite(t testing.TB) *database.DB {
	t.Helper()

	cfg := &config.StoreConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "sentinel.db"),
	}
	db, err := database.NewConnection(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return db
}
