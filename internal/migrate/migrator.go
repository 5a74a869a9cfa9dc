// Package migrate applies migrations planned over a version graph to a live
// database. Every transition runs in its own transaction, framed by a check
// of the recorded state before the script and after the re-stamp.
package migrate

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/joomcode/errorx"

	"github.com/tordrt/schemaver/internal/db"
	"github.com/tordrt/schemaver/internal/errs"
	"github.com/tordrt/schemaver/internal/graph"
	"github.com/tordrt/schemaver/internal/source"
)

// DefaultLockKey names the advisory lock taken around mutating operations.
const DefaultLockKey = "schemaver"

// schemaPlaceholder is replaced with the dialect's schema name in scripts.
const schemaPlaceholder = "{{schema}}"

// Options configures a Migrator.
type Options struct {
	// Logger receives progress events. Defaults to slog.Default().
	Logger *slog.Logger

	// DisableLock skips the advisory lock around mutating operations.
	DisableLock bool

	// LockKey overrides DefaultLockKey.
	LockKey string
}

// Migrator moves one database between the states of a version graph.
// It is safe for concurrent use; concurrent mutating calls are serialized
// by the advisory lock unless it is disabled.
type Migrator struct {
	db      *sql.DB
	dialect db.Dialect
	graph   *graph.Graph

	dropScript  string
	grantScript string

	log     *slog.Logger
	lock    bool
	lockKey string
}

// New builds the version graph from defs and binds it to a database.
func New(sqlDB *sql.DB, dialect db.Dialect, defs *source.Definitions, opts Options) (*Migrator, error) {
	if defs == nil {
		defs = &source.Definitions{}
	}
	g, err := graph.New(defs.Transitions)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lockKey := opts.LockKey
	if lockKey == "" {
		lockKey = DefaultLockKey
	}

	return &Migrator{
		db:          sqlDB,
		dialect:     dialect,
		graph:       g,
		dropScript:  defs.DropScript,
		grantScript: defs.GrantScript,
		log:         logger.With("dialect", dialect.Name()),
		lock:        !opts.DisableLock,
		lockKey:     lockKey,
	}, nil
}

// Graph returns the version graph the migrator plans over.
func (m *Migrator) Graph() *graph.Graph {
	return m.graph
}

// Dialect returns the database dialect.
func (m *Migrator) Dialect() db.Dialect {
	return m.dialect
}

// DB returns the database the migrator works on.
func (m *Migrator) DB() *sql.DB {
	return m.db
}

// CurrentState reads the state recorded in the database.
func (m *Migrator) CurrentState(ctx context.Context) (graph.State, error) {
	var state graph.State
	err := m.read(ctx, func(tx *sql.Tx) error {
		var err error
		state, err = m.currentState(ctx, tx)
		return err
	})
	return state, err
}

// PlanMigration computes the shortest path from start to end using only
// edges allowed by dir. It does not touch the database.
func (m *Migrator) PlanMigration(start, end graph.State, dir graph.Direction) (graph.Migration, error) {
	return m.graph.Plan(start, end, dir)
}

// Migrate moves the database from its current state to target along edges
// allowed by dir.
func (m *Migrator) Migrate(ctx context.Context, target graph.State, dir graph.Direction) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		return m.migrate(ctx, target, dir)
	})
}

// Upgrade moves the database to target using upgrade edges only.
func (m *Migrator) Upgrade(ctx context.Context, target graph.State) error {
	return m.Migrate(ctx, target, graph.UpgradeOnly)
}

// UpgradeLatest moves the database to the latest known state.
func (m *Migrator) UpgradeLatest(ctx context.Context) error {
	return m.Upgrade(ctx, m.graph.Latest())
}

// Downgrade moves the database to target using downgrade edges only.
func (m *Migrator) Downgrade(ctx context.Context, target graph.State) error {
	return m.Migrate(ctx, target, graph.DowngradeOnly)
}

// ForceCreate empties the database and builds it up from state 0 to target.
// The path is planned before anything is dropped.
func (m *Migrator) ForceCreate(ctx context.Context, target graph.State) error {
	plan, err := m.graph.Plan(0, target, graph.UpgradeOnly)
	if err != nil {
		return err
	}
	return m.withLock(ctx, func(ctx context.Context) error {
		if err := m.empty(ctx); err != nil {
			return err
		}
		m.log.Info("creating schema", "target", int64(target), "path", plan.String())
		return m.apply(ctx, plan)
	})
}

// ForceCreateLatest empties the database and builds the latest state.
func (m *Migrator) ForceCreateLatest(ctx context.Context) error {
	return m.ForceCreate(ctx, m.graph.Latest())
}

// Empty removes every object of the schema. It runs the drop script, or the
// dialect's reset when there is none, then the grant script if present. The
// two run in separate transactions.
func (m *Migrator) Empty(ctx context.Context) error {
	return m.withLock(ctx, m.empty)
}

// Status describes where a database stands relative to its graph.
type Status struct {
	Dialect string
	Current graph.State
	Latest  graph.State
	// Pending is the upgrade path from Current to Latest. It is nil when
	// Latest cannot be reached by upgrades alone.
	Pending graph.Migration
}

// UpToDate reports whether no upgrade is pending.
func (s *Status) UpToDate() bool {
	return s.Current == s.Latest
}

// Status reads the current state and plans the upgrade to the latest state.
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	current, err := m.CurrentState(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Dialect: m.dialect.Name(),
		Current: current,
		Latest:  m.graph.Latest(),
	}
	if plan, err := m.graph.Plan(current, st.Latest, graph.UpgradeOnly); err == nil {
		st.Pending = plan
	}
	return st, nil
}

func (m *Migrator) migrate(ctx context.Context, target graph.State, dir graph.Direction) error {
	current, err := m.CurrentState(ctx)
	if err != nil {
		return err
	}
	plan, err := m.graph.Plan(current, target, dir)
	if err != nil {
		return err
	}
	if plan.Steps() == 0 {
		m.log.Info("schema up to date", "version", int64(current))
		return nil
	}
	m.log.Info("migrating schema",
		"from", int64(current),
		"to", int64(target),
		"direction", dir.String(),
		"steps", plan.Steps())
	return m.apply(ctx, plan)
}

// apply runs the edges of plan in order, stopping at the first failure.
func (m *Migrator) apply(ctx context.Context, plan graph.Migration) error {
	steps, err := m.graph.Steps(plan)
	if err != nil {
		return err
	}
	for _, t := range steps {
		if err := m.applyTransition(ctx, t); err != nil {
			return errorx.Decorate(err, "migration %s stopped at %s", plan, t.Name())
		}
	}
	return nil
}

func (m *Migrator) empty(ctx context.Context) error {
	start := time.Now()
	err := m.transact(ctx, func(tx *sql.Tx) error {
		if m.dropScript == "" {
			return m.dialect.Reset(ctx, tx)
		}
		if err := m.dialect.Exec(ctx, tx, m.expand(m.dropScript)); err != nil {
			return errs.Script.Wrap(err, "drop script failed")
		}
		return nil
	})
	if err != nil {
		return errorx.Decorate(err, "failed to empty schema")
	}
	m.log.Info("schema emptied", "duration", time.Since(start))

	if m.grantScript == "" {
		return nil
	}
	err = m.transact(ctx, func(tx *sql.Tx) error {
		if err := m.dialect.Exec(ctx, tx, m.expand(m.grantScript)); err != nil {
			return errs.Script.Wrap(err, "grant script failed")
		}
		return nil
	})
	if err != nil {
		return errorx.Decorate(err, "schema emptied but privileges were not restored")
	}
	m.log.Info("privileges restored")
	return nil
}

func (m *Migrator) expand(script string) string {
	return strings.ReplaceAll(script, schemaPlaceholder, m.dialect.SchemaName())
}

// withLock runs fn while holding the advisory lock.
func (m *Migrator) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.lock {
		return fn(ctx)
	}
	release, err := m.dialect.Lock(ctx, m.db, m.lockKey)
	if err != nil {
		return errs.Concurrency.Wrap(err, "failed to acquire migration lock %q", m.lockKey)
	}
	defer release()
	m.log.Debug("migration lock acquired", "key", m.lockKey)
	return fn(ctx)
}

// transact runs fn in a transaction and commits it if fn succeeds.
func (m *Migrator) transact(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errorx.Decorate(err, "cannot begin transaction")
	}

	if err = fn(tx); err != nil {
		// the original error matters more than a failed rollback
		_ = tx.Rollback()
		return err
	}

	if err = tx.Commit(); err != nil {
		return errorx.Decorate(err, "cannot commit transaction")
	}
	return nil
}

// read runs fn in a transaction that is always rolled back.
func (m *Migrator) read(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errorx.Decorate(err, "cannot begin transaction")
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}
