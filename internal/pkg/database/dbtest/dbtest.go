// Package dbtest opens throwaway sqlite databases for repository tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
)

// New returns a migrated sqlite-backed DB living in t.TempDir.
func New(t testing.TB, models ...interface{}) *database.DB {
	t.Helper()

	cfg := database.DefaultConfig()
	cfg.Driver = database.DriverSQLite
	cfg.DSN = filepath.Join(t.TempDir(), "vidgrab_test.db")
	cfg.LogLevel = "silent"
	cfg.PrepareStmt = false

	db, err := database.New(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
