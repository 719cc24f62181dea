package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/governance-engine/internal/model"
)

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name      string
		op        model.Operator
		observed  float64
		threshold float64
		fired     bool
	}{
		{"lt below", model.OpLT, 18, 20, true},
		{"lt equal", model.OpLT, 20, 20, false},
		{"lt above", model.OpLT, 25, 20, false},
		{"gt above", model.OpGT, 7, 5, true},
		{"gt equal", model.OpGT, 5, 5, false},
		{"lte equal", model.OpLTE, 20, 20, true},
		{"gte equal", model.OpGTE, 5, 5, true},
		{"gte below", model.OpGTE, 4.9, 5, false},
		{"eq equal", model.OpEQ, 3, 3, true},
		{"eq differs", model.OpEQ, 3.1, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewEvaluator(newFakeReader(map[string]float64{"m": tt.observed}))
			res := ev.Evaluate(context.Background(), trig("t", "m", tt.op, tt.threshold))
			assert.Equal(t, tt.fired, res.Fired)
			assert.False(t, res.Insufficient)
			assert.Equal(t, tt.observed, res.ObservedValue)
			assert.Equal(t, tt.observed, res.Evidence.ObservedValue)
		})
	}
}

func TestEvaluate_InsufficientData(t *testing.T) {
	ev := NewEvaluator(newFakeReader(map[string]float64{}))
	res := ev.Evaluate(context.Background(), trig("quiet", "missing_metric", model.OpLT, 1))

	assert.False(t, res.Fired)
	assert.True(t, res.Insufficient)
	assert.Equal(t, "insufficient data", res.Note)
}

func TestEvaluate_InactiveTriggerNotRead(t *testing.T) {
	reader := newFakeReader(map[string]float64{"m": 1})
	ev := NewEvaluator(reader)

	tr := trig("off", "m", model.OpLT, 5)
	tr.IsActive = false
	res := ev.Evaluate(context.Background(), tr)

	assert.False(t, res.Fired)
	assert.Equal(t, "trigger inactive", res.Note)
	assert.Zero(t, reader.reads)
}

func TestEvaluate_InvalidWindow(t *testing.T) {
	reader := newFakeReader(map[string]float64{"m": 1})
	tr := trig("bad", "m", model.OpLT, 5)
	tr.WindowSeconds = 0

	res := NewEvaluator(reader).Evaluate(context.Background(), tr)
	assert.False(t, res.Fired)
	assert.Equal(t, "invalid window", res.Note)
	assert.Zero(t, reader.reads)
}

func TestEvidence_String(t *testing.T) {
	e := Evidence{TriggerName: "low_utilization", Metric: "utilization", Operator: model.OpLT, Threshold: 20, ObservedValue: 18.5}
	assert.Equal(t, "low_utilization: utilization < 20 (observed 18.5)", e.String())
}
