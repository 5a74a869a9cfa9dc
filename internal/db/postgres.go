package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tordrt/schemaver/internal/errs"
)

const (
	// DefaultSchemaComment is the comment PostgreSQL puts on the public schema.
	// A schema carrying it has never had version metadata written.
	DefaultSchemaComment = "standard public schema"

	versionFunc   = "schema_version"
	versionDomain = "schema_version_t"

	// SQLSTATE codes meaning the accessor function cannot be called yet.
	codeUndefinedFunction = "42883"
	codeInvalidSchemaName = "3F000"
)

// NewPostgresClient opens a PostgreSQL database through the pgx stdlib driver.
func NewPostgresClient(ctx context.Context, connString, schemaName string) (*Client, error) {
	db, err := openAndPing(ctx, "pgx", connString)
	if err != nil {
		return nil, err
	}
	return NewClient(db, NewPostgres(schemaName)), nil
}

// Postgres records the schema version in a self-describing pair of objects:
// a domain constrained to the version and a function returning it. Older
// databases carry the version as JSON in the schema comment.
type Postgres struct {
	schema string
}

// NewPostgres returns the PostgreSQL dialect for schemaName ("public" if empty).
func NewPostgres(schemaName string) *Postgres {
	if schemaName == "" {
		schemaName = "public"
	}
	return &Postgres{schema: schemaName}
}

func (p *Postgres) Name() string { return "PostgreSQL" }

func (p *Postgres) TransactionalDDL() bool { return true }

func (p *Postgres) SchemaName() string { return p.schema }

func (p *Postgres) ident(name string) string {
	return pgx.Identifier{p.schema, name}.Sanitize()
}

func (p *Postgres) ReadAccessor(ctx context.Context, tx *sql.Tx) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT %s()::bigint", p.ident(versionFunc))).Scan(&version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == codeUndefinedFunction || pgErr.Code == codeInvalidSchemaName) {
			return 0, fmt.Errorf("%w: %s", ErrNoAccessor, pgErr.Message)
		}
		return 0, fmt.Errorf("failed to call %s: %w", p.ident(versionFunc), err)
	}
	return version, nil
}

func (p *Postgres) ReadLegacy(ctx context.Context, tx *sql.Tx) (int64, error) {
	query := `SELECT obj_description(n.oid, 'pg_namespace') FROM pg_namespace n WHERE n.nspname = $1`

	var comment sql.NullString
	err := tx.QueryRowContext(ctx, query, p.schema).Scan(&comment)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read comment on schema %s: %w", p.schema, err)
	}
	if !comment.Valid {
		return 0, nil
	}
	return DecodeSchemaComment(comment.String)
}

// legacyMetadata is the JSON document stored in the schema comment.
type legacyMetadata struct {
	Version *int64 `json:"version"`
}

// DecodeSchemaComment extracts the version from a schema comment. The default
// comment means version 0; anything else must be {"version": N}.
func DecodeSchemaComment(comment string) (int64, error) {
	if strings.TrimSpace(comment) == DefaultSchemaComment {
		return 0, nil
	}

	var md legacyMetadata
	if err := json.Unmarshal([]byte(comment), &md); err != nil {
		return 0, errs.Metadata.Wrap(err, "schema comment %q is not version metadata", comment)
	}
	if md.Version == nil {
		return 0, errs.Metadata.New("schema comment %q has no version", comment)
	}
	if *md.Version < 0 {
		return 0, errs.Metadata.New("schema comment %q has a negative version", comment)
	}
	return *md.Version, nil
}

// EncodeSchemaComment returns the legacy comment for version.
func EncodeSchemaComment(version int64) string {
	data, _ := json.Marshal(legacyMetadata{Version: &version})
	return string(data)
}

func (p *Postgres) Stamp(ctx context.Context, tx *sql.Tx, version int64) error {
	fn := p.ident(versionFunc)
	domain := p.ident(versionDomain)

	stmts := []string{
		fmt.Sprintf("DROP FUNCTION IF EXISTS %s()", fn),
		fmt.Sprintf("DROP DOMAIN IF EXISTS %s", domain),
		fmt.Sprintf("CREATE DOMAIN %s AS bigint CHECK (VALUE = %d)", domain, version),
		fmt.Sprintf("CREATE FUNCTION %s() RETURNS %s LANGUAGE sql IMMUTABLE AS $fn$ SELECT %d::%s $fn$",
			fn, domain, version, domain),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to stamp version %d: %w\nSQL: %s", version, err, stmt)
		}
	}
	return nil
}

func (p *Postgres) Exec(ctx context.Context, tx *sql.Tx, script string) error {
	// Without arguments pgx uses the simple protocol, so a script may hold
	// several statements and dollar-quoted bodies.
	_, err := tx.ExecContext(ctx, script)
	return err
}

func (p *Postgres) Reset(ctx context.Context, tx *sql.Tx) error {
	schema := pgx.Identifier{p.schema}.Sanitize()
	stmts := []string{
		fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema),
		fmt.Sprintf("CREATE SCHEMA %s", schema),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to reset schema %s: %w", p.schema, err)
		}
	}
	return nil
}

// Lock takes a session-level advisory lock on a dedicated connection. The
// lock is held until release is called or the connection dies.
func (p *Postgres) Lock(ctx context.Context, db *sql.DB, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		_ = conn.Close()
	}
	return release, nil
}
