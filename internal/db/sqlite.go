package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tordrt/schemaver/internal/errs"
)

const versionTable = "schema_version"

// NewSQLiteClient opens a SQLite database file.
func NewSQLiteClient(ctx context.Context, path string) (*Client, error) {
	db, err := openAndPing(ctx, "sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A single writer keeps the per-step transactions from contending for
	// the database file lock.
	db.SetMaxOpenConns(1)
	return NewClient(db, NewSQLite()), nil
}

// SQLite records the version in a one-row table. Databases created before
// the table existed carry the version in PRAGMA user_version.
type SQLite struct{}

// NewSQLite returns the SQLite dialect.
func NewSQLite() *SQLite {
	return &SQLite{}
}

func (s *SQLite) Name() string { return "SQLite" }

func (s *SQLite) TransactionalDDL() bool { return true }

func (s *SQLite) SchemaName() string { return "main" }

func (s *SQLite) ReadAccessor(ctx context.Context, tx *sql.Tx) (int64, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, versionTable).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", versionTable, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no table %s", ErrNoAccessor, versionTable)
	}
	return readVersionRow(ctx, tx, `SELECT version FROM `+versionTable)
}

func (s *SQLite) ReadLegacy(ctx context.Context, tx *sql.Tx) (int64, error) {
	var version int64
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	if version < 0 {
		return 0, errs.Metadata.New("user_version %d is negative", version)
	}
	return version, nil
}

func (s *SQLite) Stamp(ctx context.Context, tx *sql.Tx, version int64) error {
	return stampVersionTable(ctx, tx, version,
		`CREATE TABLE IF NOT EXISTS `+versionTable+` (version INTEGER NOT NULL)`,
		`INSERT INTO `+versionTable+` (version) VALUES (?)`)
}

func (s *SQLite) Exec(ctx context.Context, tx *sql.Tx, script string) error {
	// go-sqlite3 executes every statement of a multi-statement string.
	_, err := tx.ExecContext(ctx, script)
	return err
}

func (s *SQLite) Reset(ctx context.Context, tx *sql.Tx) error {
	query := `
		SELECT type, name
		FROM sqlite_master
		WHERE type IN ('view', 'trigger', 'table') AND name NOT LIKE 'sqlite_%'
		ORDER BY CASE type WHEN 'trigger' THEN 0 WHEN 'view' THEN 1 ELSE 2 END, name
	`
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to list schema objects: %w", err)
	}
	var stmts []string
	for rows.Next() {
		var typ, name string
		if err := rows.Scan(&typ, &name); err != nil {
			rows.Close()
			return err
		}
		stmts = append(stmts, fmt.Sprintf("DROP %s IF EXISTS %s", typ, quoteSQLiteIdent(name)))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\nSQL: %s", err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, `PRAGMA user_version = 0`); err != nil {
		return fmt.Errorf("failed to clear user_version: %w", err)
	}
	return nil
}

// sqliteLocks serializes migrators of the same key inside this process.
// Each key maps to a one-slot channel; holding the lock means owning the slot.
// Across processes SQLite's own file locking applies.
var sqliteLocks sync.Map

func (s *SQLite) Lock(ctx context.Context, _ *sql.DB, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire sqlite lock %q: %w", key, err)
	}
	v, _ := sqliteLocks.LoadOrStore(key, make(chan struct{}, 1))
	slot := v.(chan struct{})

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire sqlite lock %q: %w", key, ctx.Err())
	}
}

func quoteSQLiteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}

// readVersionRow reads the single row of a version table.
func readVersionRow(ctx context.Context, tx *sql.Tx, query string) (int64, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", versionTable, err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return 0, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(versions) != 1 {
		return 0, errs.Metadata.New("%s holds %d rows, want exactly 1", versionTable, len(versions))
	}
	if versions[0] < 0 {
		return 0, errs.Metadata.New("%s holds negative version %d", versionTable, versions[0])
	}
	return versions[0], nil
}

// stampVersionTable replaces the content of the version table with version.
func stampVersionTable(ctx context.Context, tx *sql.Tx, version int64, create, insert string) error {
	stmts := []struct {
		sql  string
		args []any
	}{
		{sql: create},
		{sql: `DELETE FROM ` + versionTable},
		{sql: insert, args: []any{version}},
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.sql, stmt.args...); err != nil {
			return fmt.Errorf("failed to stamp version %d: %w\nSQL: %s", version, err, stmt.sql)
		}
	}
	return nil
}
