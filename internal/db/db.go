// Package db implements the database vendor-specific parts of schemaver:
// where the schema version is recorded, how it is read back, how a schema is
// reset and how concurrent migrators are kept apart.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
)

// ErrNoAccessor is returned by Dialect.ReadAccessor when the database has
// never been stamped with the accessor mechanism.
var ErrNoAccessor = errors.New("schema version accessor does not exist")

// Dialect handles database vendor-specific operations.
type Dialect interface {
	// Name returns a human-readable name for the database ("PostgreSQL").
	Name() string

	// TransactionalDDL reports whether DDL statements roll back with
	// the surrounding transaction.
	TransactionalDDL() bool

	// ReadAccessor reads the version written by Stamp. It reports an error
	// wrapping ErrNoAccessor when the accessor was never created.
	ReadAccessor(ctx context.Context, tx *sql.Tx) (int64, error)

	// ReadLegacy reads the version from metadata written before the accessor
	// existed. Databases without any metadata are at version 0.
	ReadLegacy(ctx context.Context, tx *sql.Tx) (int64, error)

	// Stamp records version as the current version of the schema.
	Stamp(ctx context.Context, tx *sql.Tx, version int64) error

	// Exec runs a migration script.
	Exec(ctx context.Context, tx *sql.Tx, script string) error

	// Reset removes every object of the schema. Used when no drop script
	// is provided.
	Reset(ctx context.Context, tx *sql.Tx) error

	// Lock blocks until this process is the only migrator for key.
	Lock(ctx context.Context, db *sql.DB, key string) (release func(), err error)

	// SchemaName is substituted for {{schema}} in scripts.
	SchemaName() string
}

// Client is an open database together with its dialect.
type Client struct {
	db      *sql.DB
	dialect Dialect
}

// NewClient wraps an existing connection pool.
func NewClient(db *sql.DB, dialect Dialect) *Client {
	return &Client{db: db, dialect: dialect}
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// GetDB returns the underlying database connection
func (c *Client) GetDB() *sql.DB {
	return c.db
}

// Dialect returns the dialect of the database.
func (c *Client) Dialect() Dialect {
	return c.dialect
}

// NewDialect returns the dialect for a driver name: "postgres" (or "pgx"),
// "sqlite" (or "sqlite3"), or "mysql". schemaName is the PostgreSQL schema or
// the MySQL database; SQLite ignores it.
func NewDialect(name, schemaName string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql", "pgx":
		return NewPostgres(schemaName), nil
	case "sqlite", "sqlite3":
		return NewSQLite(), nil
	case "mysql":
		return NewMySQL(schemaName), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q (must be postgres, mysql or sqlite)", name)
	}
}

func openAndPing(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func collectStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// hashLockKey produces a stable non-negative int64 from a string key for
// advisory locks.
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
