package evolution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/config"
	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

// ScanStore is the persistence the scanner needs.
type ScanStore interface {
	ListSignals(ctx context.Context, filter store.SignalFilter) ([]model.Signal, error)
	HasPendingCandidate(ctx context.Context, typ model.CandidateType, targetID string) (bool, error)
	CreateCandidate(ctx context.Context, c *model.EvolutionCandidate) error
}

// Scanner generates candidates from recent feedback signals.
type Scanner struct {
	store   ScanStore
	cfg     config.EvolutionConfig
	drafter *Drafter
	now     func() time.Time
}

// NewScanner creates a Scanner. drafter may be nil.
func NewScanner(st ScanStore, cfg config.EvolutionConfig, drafter *Drafter) *Scanner {
	return &Scanner{store: st, cfg: cfg, drafter: drafter, now: time.Now}
}

// Generate creates at most one pending candidate per (type, target):
// METADATA for targets with repeated low trust scores, PROMPT for targets
// with repeated error signals.
func (s *Scanner) Generate(ctx context.Context) ([]model.EvolutionCandidate, error) {
	since := s.now().Add(-s.cfg.Lookback())
	threshold := s.cfg.LowTrustThreshold

	lowTrust, err := s.store.ListSignals(ctx, store.SignalFilter{
		Type:       model.SignalTrustScore,
		Since:      since,
		ScoreBelow: &threshold,
	})
	if err != nil {
		return nil, eris.Wrap(err, "evolution: list low-trust signals")
	}
	errSignals, err := s.store.ListSignals(ctx, store.SignalFilter{
		Type:  model.SignalError,
		Since: since,
	})
	if err != nil {
		return nil, eris.Wrap(err, "evolution: list error signals")
	}

	var created []model.EvolutionCandidate
	for _, g := range groupByTarget(lowTrust) {
		c, err := s.propose(ctx, model.CandidateMetadata, g, s.metadataCandidate)
		if err != nil {
			return created, err
		}
		if c != nil {
			created = append(created, *c)
		}
	}
	for _, g := range groupByTarget(errSignals) {
		c, err := s.propose(ctx, model.CandidatePrompt, g, s.promptCandidate)
		if err != nil {
			return created, err
		}
		if c != nil {
			created = append(created, *c)
		}
	}

	zap.L().Info("evolution: candidate generation complete",
		zap.Int("low_trust_signals", len(lowTrust)),
		zap.Int("error_signals", len(errSignals)),
		zap.Int("created", len(created)),
	)
	return created, nil
}

type signalGroup struct {
	target  string
	signals []model.Signal
}

func groupByTarget(signals []model.Signal) []signalGroup {
	idx := make(map[string]int)
	var groups []signalGroup
	for _, sig := range signals {
		i, ok := idx[sig.TargetID]
		if !ok {
			i = len(groups)
			idx[sig.TargetID] = i
			groups = append(groups, signalGroup{target: sig.TargetID})
		}
		groups[i].signals = append(groups[i].signals, sig)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].target < groups[j].target })
	return groups
}

func (s *Scanner) propose(ctx context.Context, typ model.CandidateType, g signalGroup,
	build func(signalGroup) model.EvolutionCandidate) (*model.EvolutionCandidate, error) {
	if len(g.signals) < s.cfg.MinSignals {
		return nil, nil
	}
	exists, err := s.store.HasPendingCandidate(ctx, typ, g.target)
	if err != nil {
		return nil, eris.Wrapf(err, "evolution: check pending %s candidate for %s", typ, g.target)
	}
	if exists {
		return nil, nil
	}

	c := build(g)
	if s.drafter != nil {
		if text, err := s.drafter.Draft(ctx, c); err != nil {
			zap.L().Warn("evolution: drafting failed, keeping generated reasoning",
				zap.String("target", g.target), zap.Error(err))
		} else {
			c.Reasoning = text
		}
	}

	if err := s.store.CreateCandidate(ctx, &c); err != nil {
		return nil, eris.Wrapf(err, "evolution: create %s candidate for %s", typ, g.target)
	}
	zap.L().Info("evolution: candidate created",
		zap.String("type", string(typ)),
		zap.String("target", g.target),
		zap.String("candidate_id", c.ID),
	)
	return &c, nil
}

func evidenceOf(signals []model.Signal) ([]model.Evidence, float64) {
	ev := make([]model.Evidence, len(signals))
	scores := make(stats.Float64Data, len(signals))
	for i, sig := range signals {
		q := sig.NaturalQuery
		if q == "" {
			q = "Unknown Query"
		}
		ev[i] = model.Evidence{QueryID: sig.QueryID, NaturalQuery: q, Score: sig.Score}
		scores[i] = sig.Score
	}
	mean, err := scores.Mean()
	if err != nil {
		mean = 0
	}
	return ev, mean
}

func (s *Scanner) metadataCandidate(g signalGroup) model.EvolutionCandidate {
	ev, mean := evidenceOf(g.signals)
	return model.EvolutionCandidate{
		Type:     model.CandidateMetadata,
		TargetID: g.target,
		Reasoning: fmt.Sprintf("Detected %d low trust queries in the last %s (average score %.2f). Metadata review recommended.",
			len(g.signals), s.cfg.Lookback(), mean),
		ProposedChange: model.PatchValue(map[string]any{
			"action": "REVIEW_REQUIRED",
			"reason": "Low trust score detected multiple times.",
		}),
		Impact: model.ImpactAnalysis{Evidence: ev},
		Status: model.CandidatePending,
	}
}

func (s *Scanner) promptCandidate(g signalGroup) model.EvolutionCandidate {
	ev, _ := evidenceOf(g.signals)
	return model.EvolutionCandidate{
		Type:     model.CandidatePrompt,
		TargetID: g.target,
		Reasoning: fmt.Sprintf("Detected %d error signals in the last %s. Prompt review recommended.",
			len(g.signals), s.cfg.Lookback()),
		ProposedChange: model.PatchValue(map[string]any{
			"action": "REVIEW_REQUIRED",
			"reason": "Repeated rework detected.",
		}),
		Impact: model.ImpactAnalysis{Evidence: ev},
		Status: model.CandidatePending,
	}
}

// Run generates candidates on a fixed interval. It blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.ScanIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	log := zap.L().With(zap.String("component", "evolution.scanner"))
	log.Info("starting candidate scanner", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("candidate scanner stopped")
			return
		case <-ticker.C:
			if _, err := s.Generate(ctx); err != nil {
				log.Error("evolution: candidate generation failed", zap.Error(err))
			}
		}
	}
}
