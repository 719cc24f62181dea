// Package monitoring watches governance activity and raises webhook alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

// Snapshot holds a point-in-time view of governance health.
type Snapshot struct {
	// Adjustment metrics (within lookback window).
	AdjustmentsApplied  int     `json:"adjustments_applied"`
	AdjustmentsReverted int     `json:"adjustments_reverted"`
	RevertRate          float64 `json:"revert_rate"`
	ParametersTouched   int     `json:"parameters_touched"`

	// Candidate backlog.
	PendingCandidates int `json:"pending_candidates"`

	// Latest pass.
	LastPassID       string    `json:"last_pass_id,omitempty"`
	LastPassAt       time.Time `json:"last_pass_at,omitempty"`
	LastPassFailed   int       `json:"last_pass_failed"`
	LastPassConflict int       `json:"last_pass_conflicts"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source abstracts the store methods the collector reads.
type Source interface {
	ListAdjustmentLogs(ctx context.Context, filter store.LogFilter) ([]model.AdjustmentLog, error)
	CandidateCounts(ctx context.Context) (map[model.CandidateStatus]int, error)
	LatestPassSummary(ctx context.Context) (*model.PassSummary, error)
}

// Collector gathers governance metrics from the store.
type Collector struct {
	src Source
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	logs, err := c.src.ListAdjustmentLogs(ctx, store.LogFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list adjustment logs")
	}

	touched := make(map[string]struct{})
	for _, l := range logs {
		snap.AdjustmentsApplied++
		if l.Reverted() {
			snap.AdjustmentsReverted++
		}
		touched[l.TargetParameter] = struct{}{}
	}
	snap.ParametersTouched = len(touched)
	if snap.AdjustmentsApplied > 0 {
		snap.RevertRate = float64(snap.AdjustmentsReverted) / float64(snap.AdjustmentsApplied)
	}

	counts, err := c.src.CandidateCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: candidate counts")
	}
	snap.PendingCandidates = counts[model.CandidatePending]

	pass, err := c.src.LatestPassSummary(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest pass summary")
	}
	if pass != nil {
		snap.LastPassID = pass.ID
		snap.LastPassAt = pass.FinishedAt
		snap.LastPassFailed = len(pass.Failed)
		snap.LastPassConflict = len(pass.Conflicts)
	}

	return snap, nil
}
