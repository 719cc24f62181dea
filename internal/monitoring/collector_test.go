package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

type mockSource struct {
	logs    []model.AdjustmentLog
	counts  map[model.CandidateStatus]int
	pass    *model.PassSummary
	listErr error
}

func (m *mockSource) ListAdjustmentLogs(_ context.Context, filter store.LogFilter) ([]model.AdjustmentLog, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.AdjustmentLog
	for _, l := range m.logs {
		if !filter.Since.IsZero() && l.AppliedAt.Before(filter.Since) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *mockSource) CandidateCounts(context.Context) (map[model.CandidateStatus]int, error) {
	return m.counts, nil
}

func (m *mockSource) LatestPassSummary(context.Context) (*model.PassSummary, error) {
	return m.pass, nil
}

func logAt(target string, at time.Time, reverted bool) model.AdjustmentLog {
	l := model.AdjustmentLog{TargetParameter: target, AppliedAt: at, NewValue: model.BoolValue(false)}
	if reverted {
		r := at.Add(time.Minute)
		l.RevertedAt = &r
	}
	return l
}

func TestCollector_Collect(t *testing.T) {
	now := time.Now().UTC()
	src := &mockSource{
		logs: []model.AdjustmentLog{
			logAt("auto_execute_enabled", now.Add(-time.Hour), true),
			logAt("auto_execute_enabled", now.Add(-2*time.Hour), false),
			logAt("ai_verbosity", now.Add(-3*time.Hour), false),
			logAt("ai_verbosity", now.Add(-48*time.Hour), true),
		},
		counts: map[model.CandidateStatus]int{model.CandidatePending: 4, model.CandidateApproved: 2},
		pass: &model.PassSummary{
			ID:         "pass-1",
			FinishedAt: now,
			Failed:     []model.RuleOutcome{{RuleName: "x"}},
			Conflicts:  []string{"c"},
		},
	}

	snap, err := NewCollector(src).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.AdjustmentsApplied)
	assert.Equal(t, 1, snap.AdjustmentsReverted)
	assert.InDelta(t, 1.0/3.0, snap.RevertRate, 1e-9)
	assert.Equal(t, 2, snap.ParametersTouched)
	assert.Equal(t, 4, snap.PendingCandidates)
	assert.Equal(t, "pass-1", snap.LastPassID)
	assert.Equal(t, 1, snap.LastPassFailed)
	assert.Equal(t, 1, snap.LastPassConflict)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&mockSource{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.AdjustmentsApplied)
	assert.Zero(t, snap.RevertRate)
	assert.Empty(t, snap.LastPassID)
}

func TestCollector_ListError(t *testing.T) {
	_, err := NewCollector(&mockSource{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list adjustment logs")
}
