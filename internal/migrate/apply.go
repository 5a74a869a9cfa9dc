package migrate

import (
	"context"
	"database/sql"
	"time"

	"github.com/tordrt/schemaver/internal/errs"
	"github.com/tordrt/schemaver/internal/graph"
)

// applyTransition runs one edge in its own transaction. The recorded state
// must equal t.From before the scripts run and t.To after the re-stamp;
// anything else rolls the whole edge back.
func (m *Migrator) applyTransition(ctx context.Context, t *graph.Transition) error {
	log := m.log.With("from", int64(t.From), "to", int64(t.To))
	if !m.dialect.TransactionalDDL() {
		log.Warn("DDL is not transactional on this database, a failing script may leave partial changes")
	}

	start := time.Now()
	err := m.transact(ctx, func(tx *sql.Tx) error {
		observed, err := m.currentState(ctx, tx)
		if err != nil {
			return err
		}
		if observed != t.From {
			return errs.Concurrency.New(
				"incompatible start state for %s: database is at version %d, expected %d", t.Name(), observed, t.From)
		}

		if err := m.dialect.Exec(ctx, tx, m.expand(t.Script)); err != nil {
			return errs.Script.Wrap(err, "structural script %s failed", describe(t))
		}
		if t.DataScript != "" {
			if err := m.dialect.Exec(ctx, tx, m.expand(t.DataScript)); err != nil {
				return errs.Script.Wrap(err, "data script %s failed", describe(t))
			}
		}

		if err := m.dialect.Stamp(ctx, tx, int64(t.To)); err != nil {
			return errs.Transition.Wrap(err, "failed transition %s: cannot record version %d", t.Name(), t.To)
		}

		observed, err = m.currentState(ctx, tx)
		if err != nil {
			return errs.Transition.Wrap(err, "failed transition %s", t.Name())
		}
		if observed != t.To {
			return errs.Transition.New(
				"failed transition %s: database reports version %d after the step, expected %d", t.Name(), observed, t.To)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("applied transition", "duration", time.Since(start))
	return nil
}

func describe(t *graph.Transition) string {
	if t.Origin != "" {
		return t.Name() + " (" + t.Origin + ")"
	}
	return t.Name()
}
