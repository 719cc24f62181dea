package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregation_Apply(t *testing.T) {
	t.Parallel()

	values := []float64{0.1, 0.2, 0.3, 0.4}
	tests := []struct {
		agg  Aggregation
		want float64
	}{
		{AggMean, 0.25},
		{AggCount, 4},
		{AggSum, 1.0},
		{AggMin, 0.1},
		{AggMax, 0.4},
	}
	for _, tt := range tests {
		t.Run(string(tt.agg), func(t *testing.T) {
			t.Parallel()
			got, err := tt.agg.Apply(values)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAggregation_P95(t *testing.T) {
	t.Parallel()

	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	got, err := AggP95.Apply(values)
	require.NoError(t, err)
	assert.InDelta(t, 95, got, 1)
}

func TestAggregation_EmptyInput(t *testing.T) {
	t.Parallel()

	n, err := AggCount.Apply(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = AggMean.Apply(nil)
	assert.Error(t, err)
}

func TestAggregation_Unknown(t *testing.T) {
	t.Parallel()

	_, err := Aggregation("median").Apply([]float64{1})
	assert.Error(t, err)
}

func TestParseAggregation(t *testing.T) {
	t.Parallel()

	a, err := ParseAggregation(" P95 ")
	require.NoError(t, err)
	assert.Equal(t, AggP95, a)

	_, err = ParseAggregation("median")
	assert.Error(t, err)
}
