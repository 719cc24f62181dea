package evolution

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

// StatsStore is the persistence Stats needs.
type StatsStore interface {
	CandidateCounts(ctx context.Context) (map[model.CandidateStatus]int, error)
	TrustAverage(ctx context.Context, since time.Time) (store.TrustStats, error)
}

// CandidateTotals counts candidates by status.
type CandidateTotals struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// Stats is the evolution dashboard summary.
type Stats struct {
	Candidates CandidateTotals  `json:"candidates"`
	TrustScore store.TrustStats `json:"trustScore"`
}

// Compute gathers candidate counts and the average trust score over window.
func Compute(ctx context.Context, st StatsStore, window time.Duration, now time.Time) (*Stats, error) {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}

	counts, err := st.CandidateCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "evolution: candidate counts")
	}
	trust, err := st.TrustAverage(ctx, now.Add(-window))
	if err != nil {
		return nil, eris.Wrap(err, "evolution: trust average")
	}

	out := &Stats{TrustScore: trust}
	out.Candidates.Pending = counts[model.CandidatePending]
	out.Candidates.Approved = counts[model.CandidateApproved]
	out.Candidates.Rejected = counts[model.CandidateRejected]
	for _, n := range counts {
		out.Candidates.Total += n
	}
	return out, nil
}
