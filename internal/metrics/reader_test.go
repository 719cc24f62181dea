package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/governance-engine/internal/config"
	"github.com/sells-group/governance-engine/internal/resilience"
)

type fakeSource struct {
	mu     sync.Mutex
	values map[string][]float64
	err    error
	delay  time.Duration
	calls  int
	since  time.Time
	until  time.Time
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Samples(ctx context.Context, metric string, since, until time.Time) ([]float64, error) {
	f.mu.Lock()
	f.calls++
	f.since, f.until = since, until
	delay, err, vals := f.delay, f.err, f.values[metric]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return vals, nil
}

func testMetricsConfig() config.MetricsConfig {
	return config.MetricsConfig{
		MinSamples:              3,
		ReadTimeoutSecs:         1,
		CircuitFailureThreshold: 2,
		CircuitResetSecs:        60,
	}
}

func TestReader_ReadWindow_Mean(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{"error_rate": {0.06, 0.07, 0.08}}}
	r := NewReader(src, testMetricsConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	v, err := r.ReadWindow(context.Background(), "error_rate", 3600)
	require.NoError(t, err)
	assert.InDelta(t, 0.07, v, 1e-9)
	assert.Equal(t, now.Add(-time.Hour), src.since)
	assert.Equal(t, now, src.until)
}

func TestReader_ReadWindow_CountMetric(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{"rework_index": {1, 1, 1, 1, 1}}}
	r := NewReader(src, testMetricsConfig())

	v, err := r.ReadWindow(context.Background(), "rework_index", 600)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
}

func TestReader_ConfiguredAggregationOverridesDefault(t *testing.T) {
	cfg := testMetricsConfig()
	cfg.Aggregations = map[string]string{"error_rate": "max", "latency_ms": "p95", "bogus": "median"}
	r := NewReader(&fakeSource{}, cfg)

	assert.Equal(t, AggMax, r.AggregationFor("error_rate"))
	assert.Equal(t, AggP95, r.AggregationFor("latency_ms"))
	assert.Equal(t, AggMean, r.AggregationFor("bogus"))
	assert.Equal(t, AggMean, r.AggregationFor("never_configured"))
	assert.Equal(t, AggCount, r.AggregationFor("rework_index"))
}

func TestReader_InsufficientSamples(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{"trust_score": {0.5, 0.4}}}
	r := NewReader(src, testMetricsConfig())

	_, err := r.ReadWindow(context.Background(), "trust_score", 3600)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Contains(t, err.Error(), "2 samples, need 3")
}

func TestReader_MinSamplesOverride(t *testing.T) {
	cfg := testMetricsConfig()
	cfg.MinSamplesOverrides = map[string]int{"trust_score": 1}
	src := &fakeSource{values: map[string][]float64{"trust_score": {0.5}}}
	r := NewReader(src, cfg)

	v, err := r.ReadWindow(context.Background(), "trust_score", 3600)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestReader_SourceErrorIsInsufficientData(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	r := NewReader(src, testMetricsConfig())

	_, err := r.ReadWindow(context.Background(), "error_rate", 60)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestReader_TimeoutIsInsufficientData(t *testing.T) {
	src := &fakeSource{delay: 5 * time.Second}
	r := NewReader(src, testMetricsConfig())
	r.timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := r.ReadWindow(context.Background(), "error_rate", 60)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReader_NonPositiveWindow(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{"error_rate": {1, 2, 3}}}
	r := NewReader(src, testMetricsConfig())

	_, err := r.ReadWindow(context.Background(), "error_rate", 0)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Zero(t, src.calls)
}

func TestReader_OpenBreakerShortCircuits(t *testing.T) {
	src := &fakeSource{err: errors.New("influx down")}
	r := NewReader(src, testMetricsConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.ReadWindow(ctx, "error_rate", 60)
		assert.True(t, errors.Is(err, ErrInsufficientData))
	}
	assert.Equal(t, resilience.Open, r.BreakerState())

	_, err := r.ReadWindow(ctx, "error_rate", 60)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Equal(t, 2, src.calls, "open breaker must not reach the source")
}

func TestReader_Read_ReportsProvenance(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{"utilization_score": {10, 20, 30}}}
	r := NewReader(src, testMetricsConfig())

	rd, err := r.Read(context.Background(), "utilization_score", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, rd.Samples)
	assert.Equal(t, AggMean, rd.Aggregation)
	assert.Equal(t, time.Hour, rd.To.Sub(rd.From))
	assert.InDelta(t, 20, rd.Value, 1e-9)
}

func TestReader_Snapshot(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{
		"error_rate":  {0.1, 0.2, 0.3},
		"trust_score": {0.9},
	}}
	r := NewReader(src, testMetricsConfig())

	snap := r.Snapshot(context.Background(), map[string]int{"trust_score": 3600, "error_rate": 600})
	require.Len(t, snap, 2)

	assert.Equal(t, "error_rate", snap[0].Metric)
	assert.Empty(t, snap[0].Error)
	assert.InDelta(t, 0.2, snap[0].Value, 1e-9)
	assert.Equal(t, 600, snap[0].WindowSeconds)

	assert.Equal(t, "trust_score", snap[1].Metric)
	assert.Contains(t, snap[1].Error, "insufficient data")
}
