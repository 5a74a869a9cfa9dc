package migrate

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joomcode/errorx"

	"github.com/tordrt/schemaver/internal/db"
	"github.com/tordrt/schemaver/internal/errs"
	"github.com/tordrt/schemaver/internal/graph"
)

const probeSavepoint = "schemaver_probe"

// currentState reads the recorded state inside tx and checks that the graph
// knows it.
func (m *Migrator) currentState(ctx context.Context, tx *sql.Tx) (graph.State, error) {
	version, err := m.readVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	state := graph.State(version)
	if !m.graph.Has(state) {
		return 0, errs.Configuration.New(
			"unknown database version %d: not among the known versions %v", version, m.graph.States())
	}
	return state, nil
}

// readVersion calls the version accessor and falls back to legacy metadata
// when the accessor does not exist yet. The probe runs under a savepoint so
// that its failure leaves tx usable.
func (m *Migrator) readVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	// Without transactional DDL an earlier script may already have committed
	// the transaction implicitly, and there is no savepoint to return to.
	// Failed statements do not abort transactions on those databases.
	useSavepoint := m.dialect.TransactionalDDL()

	if useSavepoint {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+probeSavepoint); err != nil {
			return 0, errorx.Decorate(err, "cannot create savepoint")
		}
	}

	version, err := m.dialect.ReadAccessor(ctx, tx)
	if err == nil {
		if useSavepoint {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+probeSavepoint); err != nil {
				return 0, errorx.Decorate(err, "cannot release savepoint")
			}
		}
		return version, nil
	}
	if !errors.Is(err, db.ErrNoAccessor) {
		return 0, errorx.Decorate(err, "failed to read schema version")
	}

	if useSavepoint {
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+probeSavepoint); err != nil {
			return 0, errorx.Decorate(err, "cannot roll back to savepoint")
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+probeSavepoint); err != nil {
			return 0, errorx.Decorate(err, "cannot release savepoint")
		}
	}
	m.log.Debug("no version accessor, reading legacy metadata", "reason", err.Error())

	version, err = m.dialect.ReadLegacy(ctx, tx)
	if err != nil {
		return 0, errorx.Decorate(err, "failed to read legacy schema version")
	}
	return version, nil
}
