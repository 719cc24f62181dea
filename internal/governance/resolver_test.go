package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/governance-engine/internal/model"
)

func TestResolve_AllFired(t *testing.T) {
	r := NewResolver(NewEvaluator(newFakeReader(map[string]float64{"utilization": 18, "error_rate": 7})))
	res := r.Resolve(context.Background(), stabilizationRule())

	assert.True(t, res.Satisfied)
	require.Len(t, res.Results, 2)
	assert.Equal(t,
		"high_error_rate: error_rate > 5 (observed 7); low_utilization: utilization < 20 (observed 18)",
		res.Reason)
}

func TestResolve_OneNotFired(t *testing.T) {
	r := NewResolver(NewEvaluator(newFakeReader(map[string]float64{"utilization": 25, "error_rate": 7})))
	res := r.Resolve(context.Background(), stabilizationRule())

	assert.False(t, res.Satisfied)
	assert.Empty(t, res.Reason)
	assert.Len(t, res.Results, 2)
	assert.Equal(t, "not fired: low_utilization", res.Describe())
}

func TestResolve_EachTriggerGatesRule(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]float64
		waiting string
	}{
		{"first trigger quiet", map[string]float64{"utilization": 25, "error_rate": 7}, "low_utilization"},
		{"second trigger quiet", map[string]float64{"utilization": 18, "error_rate": 3}, "high_error_rate"},
		{"both quiet", map[string]float64{"utilization": 25, "error_rate": 3}, "low_utilization, high_error_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewResolver(NewEvaluator(newFakeReader(tt.values))).Resolve(context.Background(), stabilizationRule())
			assert.False(t, res.Satisfied)
			assert.Empty(t, res.Reason)
			require.Len(t, res.Results, 2)
			assert.Equal(t, "not fired: "+tt.waiting, res.Describe())
		})
	}
}

func TestResolve_InsufficientDataFailsClosed(t *testing.T) {
	r := NewResolver(NewEvaluator(newFakeReader(map[string]float64{"error_rate": 7})))
	res := r.Resolve(context.Background(), stabilizationRule())

	assert.False(t, res.Satisfied)
	assert.Equal(t, "not fired: low_utilization (insufficient data)", res.Describe())
}

func TestResolve_InactiveRule(t *testing.T) {
	reader := newFakeReader(map[string]float64{"utilization": 18, "error_rate": 7})
	rule := stabilizationRule()
	rule.IsActive = false

	res := NewResolver(NewEvaluator(reader)).Resolve(context.Background(), rule)
	assert.False(t, res.Satisfied)
	assert.Equal(t, SkipInactive, res.SkipReason)
	assert.Zero(t, reader.reads)
}

func TestResolve_NoTriggers(t *testing.T) {
	rule := stabilizationRule()
	rule.Triggers = nil

	res := NewResolver(NewEvaluator(newFakeReader(nil))).Resolve(context.Background(), rule)
	assert.False(t, res.Satisfied)
	assert.Equal(t, SkipNoTriggers, res.SkipReason)
	assert.Equal(t, SkipNoTriggers, res.Describe())
}

func TestResolve_InactiveTriggerInActiveRule(t *testing.T) {
	rule := stabilizationRule()
	rule.Triggers[0].IsActive = false

	r := NewResolver(NewEvaluator(newFakeReader(map[string]float64{"utilization": 18, "error_rate": 7})))
	res := r.Resolve(context.Background(), rule)
	assert.False(t, res.Satisfied)
}

func TestReason_Deterministic(t *testing.T) {
	results := []TriggerResult{
		{Fired: true, Evidence: Evidence{TriggerName: "b", Metric: "m2", Operator: model.OpGT, Threshold: 1, ObservedValue: 2}},
		{Fired: false, Evidence: Evidence{TriggerName: "c"}},
		{Fired: true, Evidence: Evidence{TriggerName: "a", Metric: "m1", Operator: model.OpLTE, Threshold: 0.5, ObservedValue: 0.25}},
	}
	want := "a: m1 <= 0.5 (observed 0.25); b: m2 > 1 (observed 2)"
	assert.Equal(t, want, Reason(results))

	results[0], results[2] = results[2], results[0]
	assert.Equal(t, want, Reason(results))
}
