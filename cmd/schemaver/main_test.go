package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/spf13/pflag"

	"github.com/tordrt/schemaver/internal/errs"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "0", want: 0},
		{input: "12", want: 12},
		{input: " 7 ", want: 7},
		{input: "-1", wantErr: true},
		{input: "latest", wantErr: true},
		{input: "", wantErr: true},
		{input: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseState(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseState(%q) = %d, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseState(%q) error: %v", tt.input, err)
			}
			if int64(got) != tt.want {
				t.Errorf("parseState(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: 0},
		{name: "concurrency", err: errs.Concurrency.New("incompatible start state"), want: 3},
		{name: "decorated concurrency", err: errorx.Decorate(errs.Concurrency.New("x"), "migration stopped"), want: 3},
		{name: "configuration", err: errs.Configuration.New("no path"), want: 2},
		{name: "script", err: errs.Script.New("syntax error"), want: 1},
		{name: "plain", err: os.ErrNotExist, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// resetFlags restores every flag to its default so that commands can be
// executed more than once in one process.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	for _, cmd := range rootCmd.Commands() {
		cmd.Flags().VisitAll(reset)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)
	t.Cleanup(func() { resetFlags(t) })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	_, err := rootCmd.ExecuteC()
	return out.String(), err
}

func writeMigrations(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "migrations")
	files := map[string]string{
		"1.sql":   "CREATE TABLE users (id INTEGER PRIMARY KEY);",
		"1-2.sql": "ALTER TABLE users ADD COLUMN name TEXT;",
		"2-1.sql": "ALTER TABLE users DROP COLUMN name;",
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestCommands_SQLite(t *testing.T) {
	migrations := writeMigrations(t)
	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "cli.db")
	common := []string{"--db-url", dbURL, "--migrations", migrations}

	out, err := execute(t, append([]string{"status"}, common...)...)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(out, "0 -> 1 -> 2") {
		t.Errorf("status output missing pending path:\n%s", out)
	}

	if _, err := execute(t, append([]string{"upgrade"}, common...)...); err != nil {
		t.Fatalf("upgrade error: %v", err)
	}

	out, err = execute(t, append([]string{"plan", "1", "--down"}, common...)...)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	if !strings.Contains(out, "PLAN 2 -> 1 (downgrade, 1 steps)") {
		t.Errorf("unexpected plan output:\n%s", out)
	}

	if _, err := execute(t, append([]string{"downgrade", "1"}, common...)...); err != nil {
		t.Fatalf("downgrade error: %v", err)
	}

	if _, err := execute(t, append([]string{"empty"}, common...)...); err == nil {
		t.Error("empty without --yes should fail")
	}
	if _, err := execute(t, append([]string{"create", "2", "--yes"}, common...)...); err != nil {
		t.Fatalf("create error: %v", err)
	}

	out, err = execute(t, append([]string{"status", "--format", "markdown"}, common...)...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "- **Current version:** 2") {
		t.Errorf("unexpected status after create:\n%s", out)
	}
}

func TestPlanAndGraph_WithoutDatabase(t *testing.T) {
	migrations := writeMigrations(t)

	out, err := execute(t, "plan", "0", "2", "--migrations", migrations)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	if !strings.Contains(out, "PLAN 0 -> 1 -> 2 (upgrade, 2 steps)") {
		t.Errorf("unexpected plan output:\n%s", out)
	}

	if _, err := execute(t, "plan", "0", "2", "--down", "--migrations", migrations); err == nil {
		t.Error("plan 0 -> 2 over downgrade edges should fail")
	}

	dir := filepath.Join(t.TempDir(), "review")
	if _, err := execute(t, "plan", "0", "2", "--migrations", migrations, "--output-dir", dir); err != nil {
		t.Fatalf("plan --output-dir error: %v", err)
	}
	for _, name := range []string{"_overview.txt", "01_0-1.sql", "02_1-2.sql"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	out, err = execute(t, "graph", "--migrations", migrations, "--format", "markdown")
	if err != nil {
		t.Fatalf("graph error: %v", err)
	}
	if !strings.Contains(out, "- **2** → 1") {
		t.Errorf("unexpected graph output:\n%s", out)
	}
}

func TestConfigFile(t *testing.T) {
	migrations := writeMigrations(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "schemaver.toml")
	body := "database_url = \"sqlite://" + filepath.Join(dir, "cfg.db") + "\"\n" +
		"migrations_dir = \"" + migrations + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "upgrade", "1", "--config", cfgPath); err != nil {
		t.Fatalf("upgrade with config error: %v", err)
	}
	out, err := execute(t, "status", "--config", cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1 -> 2") {
		t.Errorf("unexpected status:\n%s", out)
	}
}

func TestMissingDatabase(t *testing.T) {
	t.Setenv("SCHEMAVER_DATABASE_URL", "")
	_, err := execute(t, "status", "--migrations", writeMigrations(t))
	if err == nil || !strings.Contains(err.Error(), "no database") {
		t.Errorf("status without database error = %v", err)
	}
}

func TestOutputFlagsConflict(t *testing.T) {
	migrations := writeMigrations(t)
	_, err := execute(t, "plan", "0", "1", "--migrations", migrations,
		"--output", filepath.Join(t.TempDir(), "plan.txt"), "--output-dir", t.TempDir())
	if err == nil {
		t.Error("--output with --output-dir should fail")
	}
}
