// Package evolution turns feedback signals into human-gated improvement
// candidates and applies the ones an operator approves.
package evolution

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/governance"
	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

var (
	// ErrNotFound is returned for an unknown candidate.
	ErrNotFound = eris.New("candidate not found")
	// ErrInvalidState is returned when a candidate is no longer PENDING.
	ErrInvalidState = eris.New("candidate is not pending")
)

// CandidateStore is the persistence the workflow needs.
type CandidateStore interface {
	GetCandidate(ctx context.Context, id string) (*model.EvolutionCandidate, error)
	ResolveCandidate(ctx context.Context, id string, status model.CandidateStatus, resolvedBy string, logID *string, at time.Time) error
}

// Applier writes an approved change through the audited executor.
type Applier interface {
	ApplyValue(ctx context.Context, req governance.ApplyRequest) (*model.AdjustmentLog, error)
}

// Undoer reverts an applied change by its log id.
type Undoer interface {
	Revert(ctx context.Context, logID string) (*model.AdjustmentLog, error)
}

// Workflow approves or rejects pending candidates. Nothing here runs automatically.
type Workflow struct {
	candidates CandidateStore
	applier    Applier
	undoer     Undoer
	locks      *governance.ParamLocks
	now        func() time.Time
}

// NewWorkflow creates a Workflow. undoer rolls back an applied change when
// the candidate cannot be marked approved afterwards.
func NewWorkflow(candidates CandidateStore, applier Applier, undoer Undoer) *Workflow {
	return &Workflow{
		candidates: candidates,
		applier:    applier,
		undoer:     undoer,
		locks:      governance.NewParamLocks(),
		now:        time.Now,
	}
}

// Approve applies the candidate's proposed change to "<type>.<target>" and
// moves it to APPROVED with the resulting log id.
func (w *Workflow) Approve(ctx context.Context, id, operator string) (*model.EvolutionCandidate, error) {
	unlock := w.locks.Lock(id)
	defer unlock()

	c, err := w.pending(ctx, id)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "evolution.workflow"),
		zap.String("candidate_id", id),
		zap.String("operator", operator),
	)

	entry, err := w.applier.ApplyValue(ctx, governance.ApplyRequest{
		Target:      c.TargetParameter(),
		Value:       c.ProposedChange,
		Reason:      c.Reasoning,
		Method:      model.MethodImmediate,
		CandidateID: &c.ID,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "evolution: apply candidate %s", id)
	}

	at := w.now().UTC()
	if err := w.candidates.ResolveCandidate(ctx, id, model.CandidateApproved, operator, &entry.ID, at); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The change stays applied and revertible through its log.
			log.Warn("evolution: candidate resolved concurrently after apply", zap.String("log_id", entry.ID))
			return nil, ErrInvalidState
		}
		// The candidate stays PENDING, so the change must not outlive this call.
		if _, undoErr := w.undoer.Revert(context.WithoutCancel(ctx), entry.ID); undoErr != nil {
			log.Error("evolution: undo after failed resolve",
				zap.String("log_id", entry.ID),
				zap.Error(undoErr),
			)
			return nil, eris.Wrapf(err, "evolution: resolve candidate %s (undo of log %s failed: %v)", id, entry.ID, undoErr)
		}
		log.Warn("evolution: approval undone after failed resolve", zap.String("log_id", entry.ID), zap.Error(err))
		return nil, eris.Wrapf(err, "evolution: resolve candidate %s", id)
	}

	c.Status = model.CandidateApproved
	c.ResolvedBy = operator
	c.ResolvedAt = &at
	c.AdjustmentLogID = &entry.ID

	log.Info("evolution: candidate approved",
		zap.String("target", c.TargetParameter()),
		zap.String("log_id", entry.ID),
	)
	return c, nil
}

// Reject moves a pending candidate to REJECTED without touching configuration.
func (w *Workflow) Reject(ctx context.Context, id, operator string) (*model.EvolutionCandidate, error) {
	unlock := w.locks.Lock(id)
	defer unlock()

	c, err := w.pending(ctx, id)
	if err != nil {
		return nil, err
	}

	at := w.now().UTC()
	if err := w.candidates.ResolveCandidate(ctx, id, model.CandidateRejected, operator, nil, at); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrInvalidState
		}
		return nil, eris.Wrapf(err, "evolution: reject candidate %s", id)
	}

	c.Status = model.CandidateRejected
	c.ResolvedBy = operator
	c.ResolvedAt = &at

	zap.L().Info("evolution: candidate rejected",
		zap.String("candidate_id", id),
		zap.String("operator", operator),
	)
	return c, nil
}

func (w *Workflow) pending(ctx context.Context, id string) (*model.EvolutionCandidate, error) {
	c, err := w.candidates.GetCandidate(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "evolution: load candidate %s", id)
	}
	if c.Status != model.CandidatePending {
		return nil, ErrInvalidState
	}
	return c, nil
}
