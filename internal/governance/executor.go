package governance

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/model"
)

const defaultWriteTimeout = 5 * time.Second

// ApplyRequest is a single configuration write with its audit metadata.
type ApplyRequest struct {
	Target      string
	Value       model.Value
	Reason      string
	Method      model.AdjustmentMethod
	RuleID      *string
	CandidateID *string
}

// Executor writes configuration changes and records them in the audit log.
type Executor struct {
	config       ConfigStore
	audit        AuditSink
	locks        *ParamLocks
	writeTimeout time.Duration
	now          func() time.Time
}

// NewExecutor creates an Executor. locks may be shared with a Reverter so
// applies and reverts of the same parameter serialize.
func NewExecutor(config ConfigStore, audit AuditSink, locks *ParamLocks, writeTimeout time.Duration) *Executor {
	if locks == nil {
		locks = NewParamLocks()
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Executor{
		config:       config,
		audit:        audit,
		locks:        locks,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// Locks returns the parameter lock set used by the executor.
func (e *Executor) Locks() *ParamLocks { return e.locks }

// Apply writes rule's adjustment value when the resolution is satisfied.
func (e *Executor) Apply(ctx context.Context, rule model.PolicyRule, res Resolution) (*model.AdjustmentLog, error) {
	if !res.Satisfied {
		return nil, ErrNotSatisfied
	}
	ruleID := rule.ID
	return e.ApplyValue(ctx, ApplyRequest{
		Target: rule.TargetParameter,
		Value:  rule.AdjustmentValue,
		Reason: res.Reason,
		Method: rule.Method,
		RuleID: &ruleID,
	})
}

// ApplyValue captures the previous value, writes the new one and appends
// exactly one log entry. Identical repeated writes are still logged.
func (e *Executor) ApplyValue(ctx context.Context, req ApplyRequest) (*model.AdjustmentLog, error) {
	if req.Target == "" {
		return nil, eris.New("governance: apply: target parameter is required")
	}
	if req.Method == "" {
		req.Method = model.MethodImmediate
	}

	unlock := e.locks.Lock(req.Target)
	defer unlock()

	log := zap.L().With(
		zap.String("component", "governance.executor"),
		zap.String("target", req.Target),
	)

	previous, err := e.config.GetSetting(ctx, req.Target)
	if err != nil {
		adjustmentsTotal.WithLabelValues("read_failed").Inc()
		return nil, eris.Wrapf(err, "governance: read %s", req.Target)
	}

	if err := e.write(ctx, req.Target, &req.Value); err != nil {
		adjustmentsTotal.WithLabelValues("write_failed").Inc()
		return nil, err
	}

	entry := &model.AdjustmentLog{
		RuleID:          req.RuleID,
		CandidateID:     req.CandidateID,
		TargetParameter: req.Target,
		Method:          req.Method,
		Reason:          req.Reason,
		PreviousValue:   previous,
		NewValue:        req.Value,
		AppliedAt:       e.now().UTC(),
	}
	if err := e.audit.AppendAdjustmentLog(ctx, entry); err != nil {
		adjustmentsTotal.WithLabelValues("log_failed").Inc()
		// Unaudited changes are not allowed to stick.
		if rbErr := e.write(context.WithoutCancel(ctx), req.Target, previous); rbErr != nil {
			log.Error("governance: restore after failed audit append", zap.Error(rbErr))
		}
		return nil, eris.Wrapf(err, "governance: append adjustment log for %s", req.Target)
	}

	adjustmentsTotal.WithLabelValues("applied").Inc()
	log.Info("governance: adjustment applied",
		zap.String("log_id", entry.ID),
		zap.String("previous", describeValue(previous)),
		zap.Stringer("new", req.Value),
		zap.String("reason", req.Reason),
	)
	return entry, nil
}

// write sets key to v, or deletes it when v is nil, bounded by the write timeout.
func (e *Executor) write(ctx context.Context, key string, v *model.Value) error {
	return writeSetting(ctx, e.config, e.writeTimeout, key, v)
}

func writeSetting(ctx context.Context, cs ConfigStore, timeout time.Duration, key string, v *model.Value) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	if v == nil {
		err = cs.DeleteSetting(wctx, key)
	} else {
		err = cs.SetSetting(wctx, key, *v)
	}
	if err == nil && wctx.Err() != nil {
		err = wctx.Err()
	}
	if err != nil {
		return eris.Wrapf(ErrConfigWriteFailure, "governance: write %s: %v", key, err)
	}
	return nil
}

func describeValue(v *model.Value) string {
	if v == nil {
		return "<unset>"
	}
	return v.String()
}
