package governance

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

// Reverter restores the value captured by an adjustment log.
type Reverter struct {
	config       ConfigStore
	audit        AuditSink
	locks        *ParamLocks
	writeTimeout time.Duration
	now          func() time.Time
}

// NewReverter creates a Reverter sharing the executor's locks and stores.
func NewReverter(exec *Executor) *Reverter {
	return &Reverter{
		config:       exec.config,
		audit:        exec.audit,
		locks:        exec.locks,
		writeTimeout: exec.writeTimeout,
		now:          exec.now,
	}
}

// Revert writes the log's previous value back (deleting the parameter when
// there was none) and then marks the log reverted. A log is reverted at most once.
func (r *Reverter) Revert(ctx context.Context, logID string) (*model.AdjustmentLog, error) {
	entry, err := r.load(ctx, logID)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(entry.TargetParameter)
	defer unlock()

	// Re-read under the lock; a concurrent revert may have won.
	entry, err = r.load(ctx, logID)
	if err != nil {
		return nil, err
	}

	if err := writeSetting(ctx, r.config, r.writeTimeout, entry.TargetParameter, entry.PreviousValue); err != nil {
		revertsTotal.WithLabelValues("write_failed").Inc()
		return nil, err
	}

	at := r.now().UTC()
	if err := r.audit.MarkReverted(ctx, logID, at); err != nil {
		if errors.Is(err, store.ErrConflict) {
			revertsTotal.WithLabelValues("already_reverted").Inc()
			return nil, ErrAlreadyReverted
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		revertsTotal.WithLabelValues("mark_failed").Inc()
		return nil, eris.Wrapf(err, "governance: mark %s reverted", logID)
	}
	entry.RevertedAt = &at

	revertsTotal.WithLabelValues("reverted").Inc()
	zap.L().Info("governance: adjustment reverted",
		zap.String("component", "governance.reverter"),
		zap.String("log_id", logID),
		zap.String("target", entry.TargetParameter),
		zap.String("restored", describeValue(entry.PreviousValue)),
	)
	return entry, nil
}

func (r *Reverter) load(ctx context.Context, logID string) (*model.AdjustmentLog, error) {
	entry, err := r.audit.GetAdjustmentLog(ctx, logID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "governance: load adjustment log %s", logID)
	}
	if entry.Reverted() {
		revertsTotal.WithLabelValues("already_reverted").Inc()
		return nil, ErrAlreadyReverted
	}
	return entry, nil
}
