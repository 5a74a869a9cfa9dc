package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tordrt/schemaver/internal/errs"
)

func newSQLiteClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewSQLiteClient(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteClient() error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// inTx runs fn in a transaction that is always rolled back.
func inTx(t *testing.T, client *Client, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := client.GetDB().BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("BeginTx() error: %v", err)
	}
	defer func() { _ = tx.Rollback() }()
	fn(tx)
}

// commit runs fn in a transaction and commits it.
func commit(t *testing.T, client *Client, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := client.GetDB().BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("BeginTx() error: %v", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		t.Fatalf("transaction error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
}

func TestSQLite_ReadAccessorBeforeStamp(t *testing.T) {
	client := newSQLiteClient(t)
	d := client.Dialect()

	inTx(t, client, func(tx *sql.Tx) {
		_, err := d.ReadAccessor(context.Background(), tx)
		if !errors.Is(err, ErrNoAccessor) {
			t.Errorf("ReadAccessor() error = %v, want ErrNoAccessor", err)
		}
	})
}

func TestSQLite_StampAndRead(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	d := client.Dialect()

	for _, version := range []int64{3, 7} {
		commit(t, client, func(tx *sql.Tx) error {
			return d.Stamp(ctx, tx, version)
		})

		inTx(t, client, func(tx *sql.Tx) {
			got, err := d.ReadAccessor(ctx, tx)
			if err != nil {
				t.Fatalf("ReadAccessor() error: %v", err)
			}
			if got != version {
				t.Errorf("ReadAccessor() = %d, want %d", got, version)
			}
		})
	}
}

func TestSQLite_StampRollsBack(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	d := client.Dialect()

	commit(t, client, func(tx *sql.Tx) error { return d.Stamp(ctx, tx, 1) })

	inTx(t, client, func(tx *sql.Tx) {
		if err := d.Stamp(ctx, tx, 2); err != nil {
			t.Fatalf("Stamp() error: %v", err)
		}
	})

	inTx(t, client, func(tx *sql.Tx) {
		got, err := d.ReadAccessor(ctx, tx)
		if err != nil || got != 1 {
			t.Errorf("ReadAccessor() = %d, %v, want 1 after rollback", got, err)
		}
	})
}

func TestSQLite_CorruptVersionTable(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	d := client.Dialect()

	commit(t, client, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `CREATE TABLE schema_version (version INTEGER NOT NULL);
			INSERT INTO schema_version VALUES (1), (2);`)
		return err
	})

	inTx(t, client, func(tx *sql.Tx) {
		_, err := d.ReadAccessor(ctx, tx)
		if !errs.Is(err, errs.Metadata) {
			t.Errorf("ReadAccessor() error = %v, want metadata error", err)
		}
	})
}

func TestSQLite_ReadLegacy(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	d := client.Dialect()

	inTx(t, client, func(tx *sql.Tx) {
		got, err := d.ReadLegacy(ctx, tx)
		if err != nil || got != 0 {
			t.Errorf("ReadLegacy() on a new database = %d, %v, want 0", got, err)
		}
	})

	commit(t, client, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `PRAGMA user_version = 4`)
		return err
	})

	inTx(t, client, func(tx *sql.Tx) {
		got, err := d.ReadLegacy(ctx, tx)
		if err != nil || got != 4 {
			t.Errorf("ReadLegacy() = %d, %v, want 4", got, err)
		}
	})
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	d := client.Dialect()

	commit(t, client, func(tx *sql.Tx) error {
		if err := d.Exec(ctx, tx, `
			CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT);
			CREATE INDEX accounts_name ON accounts (name);
			CREATE TABLE "odd ""name""" (id INTEGER);
			CREATE VIEW account_names AS SELECT name FROM accounts;
			CREATE TRIGGER accounts_touch AFTER INSERT ON accounts BEGIN SELECT 1; END;
			PRAGMA user_version = 9;
		`); err != nil {
			return err
		}
		return d.Stamp(ctx, tx, 5)
	})

	commit(t, client, func(tx *sql.Tx) error { return d.Reset(ctx, tx) })

	inTx(t, client, func(tx *sql.Tx) {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE name NOT LIKE 'sqlite_%'`).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("%d schema objects left after Reset()", n)
		}
		if _, err := d.ReadAccessor(ctx, tx); !errors.Is(err, ErrNoAccessor) {
			t.Errorf("ReadAccessor() after Reset() error = %v, want ErrNoAccessor", err)
		}
		if v, err := d.ReadLegacy(ctx, tx); err != nil || v != 0 {
			t.Errorf("ReadLegacy() after Reset() = %d, %v, want 0", v, err)
		}
	})
}

func TestSQLite_LockSerializes(t *testing.T) {
	ctx := context.Background()
	d := NewSQLite()

	release, err := d.Lock(ctx, nil, "test-lock-serializes")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := d.Lock(ctx, nil, "test-lock-serializes")
		if err != nil {
			t.Errorf("second Lock() error: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock() returned while the first was held")
	default:
	}

	release()
	<-acquired
}

func TestSQLite_LockCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewSQLite().Lock(ctx, nil, "cancelled"); err == nil {
		t.Error("Lock() with a cancelled context should fail")
	}
}

func TestSQLite_LockWaiterCancelled(t *testing.T) {
	d := NewSQLite()
	release, err := d.Lock(context.Background(), nil, "waiter-cancelled")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Lock(ctx, nil, "waiter-cancelled")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("blocked Lock() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked Lock() ignored cancellation")
	}
}
