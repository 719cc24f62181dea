package metrics

import (
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
)

// Aggregation reduces the samples of a window to one observed value.
type Aggregation string

const (
	AggMean  Aggregation = "mean"
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggP95   Aggregation = "p95"
)

// DefaultAggregations covers the metrics the seeded triggers watch.
// Rate-like metrics average; event counters count.
var DefaultAggregations = map[string]Aggregation{
	"error_rate":        AggMean,
	"trust_score":       AggMean,
	"utilization_score": AggMean,
	"rework_index":      AggCount,
}

// ParseAggregation accepts the names used in config, case-insensitively.
func ParseAggregation(s string) (Aggregation, error) {
	a := Aggregation(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case AggMean, AggCount, AggSum, AggMin, AggMax, AggP95:
		return a, nil
	}
	return "", eris.Errorf("metrics: unknown aggregation %q", s)
}

// Apply reduces values. Callers check the sample floor first.
func (a Aggregation) Apply(values []float64) (float64, error) {
	if a == AggCount {
		return float64(len(values)), nil
	}
	if len(values) == 0 {
		return 0, eris.New("metrics: no samples to aggregate")
	}

	var (
		v   float64
		err error
	)
	switch a {
	case AggMean:
		v, err = stats.Mean(values)
	case AggSum:
		v, err = stats.Sum(values)
	case AggMin:
		v, err = stats.Min(values)
	case AggMax:
		v, err = stats.Max(values)
	case AggP95:
		v, err = stats.Percentile(values, 95)
	default:
		return 0, eris.Errorf("metrics: unknown aggregation %q", string(a))
	}
	if err != nil {
		return 0, eris.Wrapf(err, "metrics: aggregate %s", a)
	}
	return v, nil
}
