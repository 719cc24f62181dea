// Package metrics reads rolling-window metric values for trigger evaluation.
package metrics

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/config"
	"github.com/sells-group/governance-engine/internal/resilience"
)

// ErrInsufficientData means no trustworthy value exists for the window. The
// evaluator treats it as "not fired", never as a failure.
var ErrInsufficientData = eris.New("insufficient data")

// Reading is an aggregated window value with its provenance.
type Reading struct {
	Metric      string      `json:"metric"`
	Value       float64     `json:"value"`
	Samples     int         `json:"samples"`
	Aggregation Aggregation `json:"aggregation"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
}

// Reader aggregates source samples over a trailing window.
type Reader struct {
	source       Source
	breaker      *resilience.Breaker
	aggregations map[string]Aggregation
	minSamples   int
	overrides    map[string]int
	timeout      time.Duration
	now          func() time.Time
	log          *zap.Logger
}

// NewReader builds a reader over src. Unknown aggregation names in cfg are
// rejected by config validation; here they fall back to mean.
func NewReader(src Source, cfg config.MetricsConfig) *Reader {
	aggs := make(map[string]Aggregation, len(DefaultAggregations)+len(cfg.Aggregations))
	for k, v := range DefaultAggregations {
		aggs[k] = v
	}
	for k, v := range cfg.Aggregations {
		if a, err := ParseAggregation(v); err == nil {
			aggs[k] = a
		}
	}

	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = 1
	}
	timeout := cfg.ReadTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Reader{
		source:       src,
		breaker:      resilience.NewBreaker("metrics:"+src.Name(), resilience.BreakerConfigFor(cfg)),
		aggregations: aggs,
		minSamples:   minSamples,
		overrides:    cfg.MinSamplesOverrides,
		timeout:      timeout,
		now:          time.Now,
		log:          zap.L().With(zap.String("component", "metrics"), zap.String("source", src.Name())),
	}
}

// AggregationFor returns the aggregation applied to metric.
func (r *Reader) AggregationFor(metric string) Aggregation {
	if a, ok := r.aggregations[metric]; ok {
		return a
	}
	return AggMean
}

func (r *Reader) minSamplesFor(metric string) int {
	if n, ok := r.overrides[metric]; ok && n > 0 {
		return n
	}
	return r.minSamples
}

// ReadWindow returns the aggregated value of metric over the last windowSeconds.
func (r *Reader) ReadWindow(ctx context.Context, metric string, windowSeconds int) (float64, error) {
	rd, err := r.Read(ctx, metric, time.Duration(windowSeconds)*time.Second)
	if err != nil {
		return 0, err
	}
	return rd.Value, nil
}

// Read is ReadWindow with the sample count and bounds attached. Every failure
// is reported as ErrInsufficientData wrapping the cause.
func (r *Reader) Read(ctx context.Context, metric string, window time.Duration) (Reading, error) {
	if window <= 0 {
		return Reading{}, eris.Wrapf(ErrInsufficientData, "%s: window must be > 0", metric)
	}

	to := r.now()
	from := to.Add(-window)
	agg := r.AggregationFor(metric)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	values, err := resilience.Guard(ctx, r.breaker, func(ctx context.Context) ([]float64, error) {
		return r.source.Samples(ctx, metric, from, to)
	})
	if err != nil {
		r.log.Warn("metric read failed", zap.String("metric", metric), zap.Error(err))
		return Reading{}, eris.Wrapf(ErrInsufficientData, "%s: %v", metric, err)
	}

	if need := r.minSamplesFor(metric); len(values) < need {
		return Reading{}, eris.Wrapf(ErrInsufficientData, "%s: %d samples, need %d", metric, len(values), need)
	}

	v, err := agg.Apply(values)
	if err != nil {
		return Reading{}, eris.Wrapf(ErrInsufficientData, "%s: %v", metric, err)
	}

	return Reading{
		Metric:      metric,
		Value:       v,
		Samples:     len(values),
		Aggregation: agg,
		From:        from,
		To:          to,
	}, nil
}

// SnapshotEntry is one metric in an operator snapshot.
type SnapshotEntry struct {
	Reading
	WindowSeconds int    `json:"window_seconds"`
	Error         string `json:"error,omitempty"`
}

// Snapshot reads each metric over its window. Failed reads carry an error
// string instead of failing the whole snapshot. Entries are sorted by metric.
func (r *Reader) Snapshot(ctx context.Context, windows map[string]int) []SnapshotEntry {
	out := make([]SnapshotEntry, 0, len(windows))
	for metric, secs := range windows {
		e := SnapshotEntry{WindowSeconds: secs}
		rd, err := r.Read(ctx, metric, time.Duration(secs)*time.Second)
		if err != nil {
			e.Metric = metric
			e.Aggregation = r.AggregationFor(metric)
			e.Error = err.Error()
		} else {
			e.Reading = rd
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// BreakerState exposes the source breaker for health reporting.
func (r *Reader) BreakerState() resilience.State {
	return r.breaker.State()
}
