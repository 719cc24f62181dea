package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/governance-engine/internal/model"
)

type fakeLister struct {
	rows []model.MetricSample
	err  error
}

func (f *fakeLister) ListSamples(_ context.Context, _ string, _, _ time.Time) ([]model.MetricSample, error) {
	return f.rows, f.err
}

func TestStoreSource_Samples(t *testing.T) {
	t.Parallel()

	src := NewStoreSource(&fakeLister{rows: []model.MetricSample{
		{Metric: "error_rate", Value: 0.1},
		{Metric: "error_rate", Value: 0.3},
	}})
	assert.Equal(t, "store", src.Name())

	vals, err := src.Samples(context.Background(), "error_rate", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.3}, vals)
}

func TestStoreSource_PropagatesError(t *testing.T) {
	t.Parallel()

	src := NewStoreSource(&fakeLister{err: errors.New("db closed")})
	_, err := src.Samples(context.Background(), "error_rate", time.Now(), time.Now())
	assert.Error(t, err)
}
