package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// erNoSuchTable is MySQL error 1146, ER_NO_SUCH_TABLE.
const erNoSuchTable = 1146

// NewMySQLClient opens a MySQL database. The DSN must name a database.
func NewMySQLClient(ctx context.Context, connString string) (*Client, error) {
	cfg, err := mysql.ParseDSN(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("MySQL DSN must name a database")
	}

	db, err := openAndPing(ctx, "mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	return NewClient(db, NewMySQL(cfg.DBName)), nil
}

// MySQL records the version in a one-row table. MySQL commits DDL implicitly,
// so a failing step may leave part of its structural changes behind.
type MySQL struct {
	database string
}

// NewMySQL returns the MySQL dialect for database.
func NewMySQL(database string) *MySQL {
	return &MySQL{database: database}
}

func (m *MySQL) Name() string { return "MySQL" }

func (m *MySQL) TransactionalDDL() bool { return false }

func (m *MySQL) SchemaName() string { return m.database }

func (m *MySQL) ReadAccessor(ctx context.Context, tx *sql.Tx) (int64, error) {
	version, err := readVersionRow(ctx, tx, "SELECT version FROM `"+versionTable+"`")
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == erNoSuchTable {
			return 0, fmt.Errorf("%w: %s", ErrNoAccessor, myErr.Message)
		}
		return 0, err
	}
	return version, nil
}

// ReadLegacy reports version 0: MySQL databases never carried legacy metadata.
func (m *MySQL) ReadLegacy(ctx context.Context, tx *sql.Tx) (int64, error) {
	return 0, nil
}

// The version table holds one row with a fixed key. MySQL commits the CREATE
// implicitly, so the row is written by a single upsert and is never absent.
const (
	mysqlCreateVersionTable = "CREATE TABLE IF NOT EXISTS `" + versionTable + "` " +
		"(id TINYINT NOT NULL PRIMARY KEY, version BIGINT NOT NULL)"
	mysqlUpsertVersion = "INSERT INTO `" + versionTable + "` (id, version) VALUES (1, ?) " +
		"ON DUPLICATE KEY UPDATE version = VALUES(version)"
)

func (m *MySQL) Stamp(ctx context.Context, tx *sql.Tx, version int64) error {
	if _, err := tx.ExecContext(ctx, mysqlCreateVersionTable); err != nil {
		return fmt.Errorf("failed to create %s: %w", versionTable, err)
	}
	if _, err := tx.ExecContext(ctx, mysqlUpsertVersion, version); err != nil {
		return fmt.Errorf("failed to stamp version %d: %w", version, err)
	}
	return nil
}

// Exec runs each statement of script in turn; the driver does not accept
// several statements in one call.
func (m *MySQL) Exec(ctx context.Context, tx *sql.Tx, script string) error {
	for i, stmt := range SplitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w\nSQL: %s", i+1, err, stmt)
		}
	}
	return nil
}

func (m *MySQL) Reset(ctx context.Context, tx *sql.Tx) error {
	views, err := collectStrings(ctx, tx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'VIEW'
		ORDER BY table_name
	`)
	if err != nil {
		return fmt.Errorf("failed to list views: %w", err)
	}
	tables, err := collectStrings(ctx, tx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	stmts := []string{"SET FOREIGN_KEY_CHECKS = 0"}
	for _, v := range views {
		stmts = append(stmts, "DROP VIEW IF EXISTS "+quoteMySQLIdent(v))
	}
	for _, t := range tables {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+quoteMySQLIdent(t))
	}
	stmts = append(stmts, "SET FOREIGN_KEY_CHECKS = 1")

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// Lock takes a named lock with GET_LOCK on a dedicated connection.
func (m *MySQL) Lock(ctx context.Context, db *sql.DB, key string) (func(), error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, -1)`, key).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("GET_LOCK(%q): %w", key, err)
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("GET_LOCK(%q) was not granted", key)
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT RELEASE_LOCK(?)`, key)
		_ = conn.Close()
	}
	return release, nil
}

func quoteMySQLIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
