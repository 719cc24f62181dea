package db

import (
	"context"

	"github.com/rotisserie/eris"
)

// TryXactLock takes a transaction-scoped advisory lock on its own
// transaction. ok is false when another session holds the key. The lock is
// held until release is called.
func TryXactLock(ctx context.Context, pool Pool, key int64) (release func(context.Context), ok bool, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "db: advisory lock: begin tx")
	}

	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", key).Scan(&ok); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, eris.Wrapf(err, "db: advisory lock %d", key)
	}
	if !ok {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}

	return func(ctx context.Context) { _ = tx.Rollback(ctx) }, true, nil
}
