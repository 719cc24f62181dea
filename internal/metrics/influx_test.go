package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/governance-engine/internal/config"
	"github.com/sells-group/governance-engine/internal/resilience"
)

type fakeRunner struct {
	queries []string
	results [][]float64
	errs    []error
}

func (f *fakeRunner) Values(_ context.Context, flux string) ([]float64, error) {
	i := len(f.queries)
	f.queries = append(f.queries, flux)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return nil, nil
}

func testInfluxConfig() config.InfluxConfig {
	return config.InfluxConfig{
		URL:              "http://localhost:8086",
		Org:              "ops",
		Bucket:           "governance",
		Measurement:      "governance_metrics",
		QueriesPerSecond: 1000,
		MaxAttempts:      3,
	}
}

func TestInfluxSource_QueryShape(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: [][]float64{{0.1, 0.2}}}
	src := newInfluxSource(testInfluxConfig(), runner)
	since := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	vals, err := src.Samples(context.Background(), "error_rate", since, until)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, vals)

	require.Len(t, runner.queries, 1)
	q := runner.queries[0]
	assert.Contains(t, q, `from(bucket: "governance")`)
	assert.Contains(t, q, "range(start: 2026-03-01T11:00:00Z, stop: 2026-03-01T12:00:00.000000001Z)")
	assert.Contains(t, q, `r._measurement == "governance_metrics"`)
	assert.Contains(t, q, `r._field == "error_rate"`)
}

func TestInfluxSource_RetriesTransient(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		errs:    []error{resilience.NewTransientError(errors.New("503"), 503), nil},
		results: [][]float64{nil, {0.5}},
	}
	src := newInfluxSource(testInfluxConfig(), runner)
	src.retry.InitialBackoff = time.Millisecond

	vals, err := src.Samples(context.Background(), "trust_score", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, vals)
	assert.Len(t, runner.queries, 2)
}

func TestInfluxSource_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{errs: []error{errors.New("compilation failed: undefined identifier")}}
	src := newInfluxSource(testInfluxConfig(), runner)

	_, err := src.Samples(context.Background(), "trust_score", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "influx: query trust_score")
	assert.Len(t, runner.queries, 1)
}

func TestInfluxSource_Defaults(t *testing.T) {
	t.Parallel()

	src := newInfluxSource(config.InfluxConfig{Bucket: "b"}, &fakeRunner{})
	assert.Equal(t, "governance_metrics", src.measurement)
	assert.Equal(t, "influx", src.Name())
	assert.Equal(t, 3, src.retry.MaxAttempts)
}

func TestNewInfluxSource_RequiresConnection(t *testing.T) {
	t.Parallel()

	_, err := NewInfluxSource(config.InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}

func TestIsTransientInflux(t *testing.T) {
	t.Parallel()

	assert.True(t, isTransientInflux(errors.New("unexpected status 503 Service Unavailable")))
	assert.True(t, isTransientInflux(errors.New("read tcp: i/o timeout")))
	assert.False(t, isTransientInflux(errors.New("unauthorized access")))
}
