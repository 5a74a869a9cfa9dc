//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tordrt/schemaver"
)

// scenarioDefinitions returns the graph 0 -> 1 -> 2, 2 -> 1, 1 -> 3 with
// scripts that qualify every object with {{schema}}.
func scenarioDefinitions(autoIncrement string) *schemaver.Definitions {
	return &schemaver.Definitions{
		Transitions: []schemaver.Transition{
			{From: 0, To: 1, Origin: "1.sql", Script: fmt.Sprintf(
				`CREATE TABLE {{schema}}.users (id %s PRIMARY KEY, name VARCHAR(100) NOT NULL)`, autoIncrement)},
			{From: 1, To: 2, Origin: "1-2.sql",
				Script:     `ALTER TABLE {{schema}}.users ADD COLUMN email VARCHAR(200)`,
				DataScript: `UPDATE {{schema}}.users SET email = CONCAT(name, '@example.com')`},
			{From: 2, To: 1, Origin: "2-1.sql", Script: `ALTER TABLE {{schema}}.users DROP COLUMN email`},
			{From: 1, To: 3, Origin: "1-3.sql", Script: `CREATE TABLE {{schema}}.broken (id INT); SELECT * FROM {{schema}}.missing_table`},
		},
	}
}

func testOptions(schemaName string) *schemaver.Options {
	return &schemaver.Options{
		SchemaName: schemaName,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// uniqueName returns an identifier that does not collide between test runs.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// verifyState checks the version recorded in the database
func verifyState(t *testing.T, m *schemaver.Migrator, want schemaver.State) {
	t.Helper()

	got, err := m.CurrentState(context.Background())
	if err != nil {
		t.Fatalf("CurrentState() error: %v", err)
	}
	if got != want {
		t.Fatalf("CurrentState() = %d, want %d", got, want)
	}
}

// runScenario drives the shared upgrade, downgrade and failure sequence.
func runScenario(t *testing.T, m *schemaver.Migrator) {
	t.Helper()
	ctx := context.Background()

	if err := m.ForceCreate(ctx, 2); err != nil {
		t.Fatalf("ForceCreate(2) error: %v", err)
	}
	verifyState(t, m, 2)

	if err := m.Upgrade(ctx, 1); !schemaver.IsConfiguration(err) {
		t.Fatalf("Upgrade(1) from 2 error = %v, want configuration error", err)
	}

	if err := m.Downgrade(ctx, 1); err != nil {
		t.Fatalf("Downgrade(1) error: %v", err)
	}
	verifyState(t, m, 1)

	if err := m.Upgrade(ctx, 3); !schemaver.IsScript(err) {
		t.Fatalf("Upgrade(3) error = %v, want script error", err)
	}
	verifyState(t, m, 1)

	if err := m.Upgrade(ctx, 2); err != nil {
		t.Fatalf("Upgrade(2) error: %v", err)
	}
	verifyState(t, m, 2)

	if err := m.Empty(ctx); err != nil {
		t.Fatalf("Empty() error: %v", err)
	}
	verifyState(t, m, 0)
}
