package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/governance-engine/internal/config"
	"github.com/sells-group/governance-engine/internal/resilience"
)

// fluxRunner executes a Flux query and returns the _value column as floats.
type fluxRunner interface {
	Values(ctx context.Context, flux string) ([]float64, error)
}

// InfluxSource reads metric samples from an InfluxDB bucket. Each metric is a
// field of one measurement.
type InfluxSource struct {
	bucket      string
	measurement string
	runner      fluxRunner
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
	closeFn     func()
}

// NewInfluxSource connects to InfluxDB using cfg.
func NewInfluxSource(cfg config.InfluxConfig) (*InfluxSource, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, eris.New("metrics: influx url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	src := newInfluxSource(cfg, &queryRunner{api: client.QueryAPI(cfg.Org)})
	src.closeFn = client.Close
	return src, nil
}

func newInfluxSource(cfg config.InfluxConfig, runner fluxRunner) *InfluxSource {
	qps := cfg.QueriesPerSecond
	if qps <= 0 {
		qps = 5
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "governance_metrics"
	}
	return &InfluxSource{
		bucket:      cfg.Bucket,
		measurement: measurement,
		runner:      runner,
		limiter:     rate.NewLimiter(rate.Limit(qps), 1),
		retry:       resilience.RetryConfigFor(cfg),
	}
}

func (s *InfluxSource) Name() string { return "influx" }

func (s *InfluxSource) Samples(ctx context.Context, metric string, since, until time.Time) ([]float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "influx: rate limit wait")
	}
	flux := s.query(metric, since, until)
	vals, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]float64, error) {
		return s.runner.Values(ctx, flux)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "influx: query %s", metric)
	}
	return vals, nil
}

// Close releases the HTTP client.
func (s *InfluxSource) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// query covers [since, until]. Flux treats stop as exclusive, so it is
// pushed one nanosecond past until.
func (s *InfluxSource) query(metric string, since, until time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r._field == %q)
  |> keep(columns: ["_time", "_value"])`,
		s.bucket,
		since.UTC().Format(time.RFC3339Nano),
		until.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano),
		s.measurement,
		metric,
	)
}

type queryRunner struct {
	api api.QueryAPI
}

func (q *queryRunner) Values(ctx context.Context, flux string) ([]float64, error) {
	result, err := q.api.Query(ctx, flux)
	if err != nil {
		if isTransientInflux(err) {
			return nil, resilience.NewTransientError(err, 0)
		}
		return nil, err
	}
	defer result.Close() //nolint:errcheck

	var out []float64
	for result.Next() {
		switch v := result.Record().Value().(type) {
		case float64:
			out = append(out, v)
		case int64:
			out = append(out, float64(v))
		case uint64:
			out = append(out, float64(v))
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isTransientInflux(err error) bool {
	if resilience.IsTransient(err) {
		return true
	}
	msg := err.Error()
	for _, code := range []string{"429", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
