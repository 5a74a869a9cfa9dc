//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tordrt/schemaver"
)

func TestSQLiteScenario(t *testing.T) {
	ctx := context.Background()

	// Use environment variable if set, otherwise use a fresh database
	dbPath := os.Getenv("SQLITE_TEST_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "test.db")
	}

	m, err := schemaver.Open(ctx, "sqlite://"+dbPath, scenarioDefinitions("INTEGER"), testOptions(""))
	if err != nil {
		t.Fatalf("Failed to connect to SQLite: %v", err)
	}
	defer m.Close()

	runScenario(t, m)
}

func TestSQLiteMigrationsDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	files := map[string]string{
		"1.sql":        "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);",
		"1-2.sql":      "ALTER TABLE users ADD COLUMN email TEXT;",
		"1-2.data.sql": "UPDATE users SET email = name || '@example.com';",
		"2-1.sql":      "ALTER TABLE users DROP COLUMN email;",
		"drop.sql":     "DROP TABLE IF EXISTS users; DROP TABLE IF EXISTS schema_version;",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	defs, err := schemaver.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	m, err := schemaver.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "dir.db"), defs, testOptions(""))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.ForceCreateLatest(ctx); err != nil {
		t.Fatalf("ForceCreateLatest() error: %v", err)
	}
	verifyState(t, m, 2)
	if err := m.Empty(ctx); err != nil {
		t.Fatalf("Empty() error: %v", err)
	}
	verifyState(t, m, 0)
}
