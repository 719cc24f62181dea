package store

import (
	"context"
	"time"

	"github.com/sells-group/governance-engine/internal/model"
)

// RuleFilter specifies criteria for listing policy rules.
type RuleFilter struct {
	ActiveOnly bool             `json:"active_only,omitempty"`
	Area       model.PolicyArea `json:"area,omitempty"`
}

// LogFilter specifies criteria for listing adjustment logs.
type LogFilter struct {
	RuleID   string    `json:"rule_id,omitempty"`
	Target   string    `json:"target_parameter,omitempty"`
	OnlyOpen bool      `json:"only_open,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}

// CandidateFilter specifies criteria for listing evolution candidates.
type CandidateFilter struct {
	Status   model.CandidateStatus `json:"status,omitempty"`
	Type     model.CandidateType   `json:"type,omitempty"`
	TargetID string                `json:"target_id,omitempty"`
	Limit    int                   `json:"limit,omitempty"`
}

// SignalFilter specifies criteria for listing feedback signals.
type SignalFilter struct {
	Type     model.SignalType `json:"signal_type,omitempty"`
	TargetID string           `json:"target_id,omitempty"`
	Since    time.Time        `json:"since,omitempty"`
	// ScoreBelow keeps signals with score strictly below the value when set.
	ScoreBelow *float64 `json:"score_below,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// TriggerUpdate holds the operator-mutable trigger fields. Nil fields are left unchanged.
type TriggerUpdate struct {
	Threshold     *float64 `json:"threshold,omitempty"`
	WindowSeconds *int     `json:"window_seconds,omitempty"`
	IsActive      *bool    `json:"is_active,omitempty"`
	Description   *string  `json:"description,omitempty"`
}

// TrustStats is the average trust score over a window.
type TrustStats struct {
	Average    float64 `json:"average"`
	SampleSize int     `json:"sample_size"`
}

// Store defines the persistence interface for the governance engine.
type Store interface {
	// Triggers
	CreateTrigger(ctx context.Context, t *model.Trigger) error
	GetTrigger(ctx context.Context, id string) (*model.Trigger, error)
	GetTriggerByName(ctx context.Context, name string) (*model.Trigger, error)
	ListTriggers(ctx context.Context) ([]model.Trigger, error)
	UpdateTrigger(ctx context.Context, id string, upd TriggerUpdate) (*model.Trigger, error)

	// Rules
	CreateRule(ctx context.Context, r *model.PolicyRule) error
	GetRule(ctx context.Context, id string) (*model.PolicyRule, error)
	GetRuleByName(ctx context.Context, name string) (*model.PolicyRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]model.PolicyRule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error
	DeleteRule(ctx context.Context, id string) error

	// Settings
	GetSetting(ctx context.Context, key string) (*model.Value, error)
	SetSetting(ctx context.Context, key string, v model.Value) error
	DeleteSetting(ctx context.Context, key string) error
	ListSettings(ctx context.Context) ([]model.Setting, error)
	ImportSettings(ctx context.Context, settings []model.Setting, onlyMissing bool) (int64, error)

	// Adjustment logs
	AppendAdjustmentLog(ctx context.Context, l *model.AdjustmentLog) error
	GetAdjustmentLog(ctx context.Context, id string) (*model.AdjustmentLog, error)
	ListAdjustmentLogs(ctx context.Context, filter LogFilter) ([]model.AdjustmentLog, error)
	MarkReverted(ctx context.Context, id string, at time.Time) error

	// Candidates
	CreateCandidate(ctx context.Context, c *model.EvolutionCandidate) error
	GetCandidate(ctx context.Context, id string) (*model.EvolutionCandidate, error)
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.EvolutionCandidate, error)
	HasPendingCandidate(ctx context.Context, typ model.CandidateType, targetID string) (bool, error)
	ResolveCandidate(ctx context.Context, id string, status model.CandidateStatus, resolvedBy string, logID *string, at time.Time) error
	CandidateCounts(ctx context.Context) (map[model.CandidateStatus]int, error)

	// Signals
	RecordSignal(ctx context.Context, s *model.Signal) error
	ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error)
	TrustAverage(ctx context.Context, since time.Time) (TrustStats, error)

	// Metric samples
	RecordSamples(ctx context.Context, samples []model.MetricSample) (int64, error)
	ListSamples(ctx context.Context, metric string, since, until time.Time) ([]model.MetricSample, error)

	// Pass summaries
	SavePassSummary(ctx context.Context, p *model.PassSummary) error
	LatestPassSummary(ctx context.Context) (*model.PassSummary, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
