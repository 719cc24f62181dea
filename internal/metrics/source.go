package metrics

import (
	"context"
	"time"

	"github.com/sells-group/governance-engine/internal/model"
)

// Source returns the raw sample values of a metric inside [since, until].
type Source interface {
	Name() string
	Samples(ctx context.Context, metric string, since, until time.Time) ([]float64, error)
}

// SampleLister is the slice of the store the store-backed source needs.
type SampleLister interface {
	ListSamples(ctx context.Context, metric string, since, until time.Time) ([]model.MetricSample, error)
}

// StoreSource reads samples ingested into the governance database.
type StoreSource struct {
	samples SampleLister
}

// NewStoreSource wraps a sample lister.
func NewStoreSource(samples SampleLister) *StoreSource {
	return &StoreSource{samples: samples}
}

func (s *StoreSource) Name() string { return "store" }

func (s *StoreSource) Samples(ctx context.Context, metric string, since, until time.Time) ([]float64, error) {
	rows, err := s.samples.ListSamples(ctx, metric, since, until)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Value
	}
	return out, nil
}
