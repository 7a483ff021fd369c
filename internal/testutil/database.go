package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"appmanager/internal/db"
)

// TestDeviceID is the device every test database is registered as
const TestDeviceID = "00000000-0000-4000-8000-000000000001"

// SetupTestDB creates a migrated SQLite database in a temporary directory
// with TestDeviceID registered.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	cfg := db.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	database, err := db.New(cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := database.Migrate(); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	if _, err := db.NewDeviceRepository(database).Ensure(context.Background(), TestDeviceID, "test-device", nil); err != nil {
		t.Fatalf("Failed to register device: %v", err)
	}

	return database
}
