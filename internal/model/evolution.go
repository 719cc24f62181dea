package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// CandidateType is the kind of improvement a candidate proposes.
type CandidateType string

const (
	CandidateMetadata CandidateType = "METADATA"
	CandidatePrompt   CandidateType = "PROMPT"
)

// CandidateStatus is the review state of a candidate.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "PENDING"
	CandidateApproved CandidateStatus = "APPROVED"
	CandidateRejected CandidateStatus = "REJECTED"
)

// ParseCandidateStatus accepts a status name case-insensitively.
// "APPLIED" is accepted as a synonym for APPROVED.
func ParseCandidateStatus(s string) (CandidateStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return CandidatePending, nil
	case "APPROVED", "APPLIED":
		return CandidateApproved, nil
	case "REJECTED":
		return CandidateRejected, nil
	default:
		return "", eris.Errorf("model: unknown candidate status %q", s)
	}
}

// Evidence is one low-trust observation backing a candidate.
type Evidence struct {
	QueryID      string  `json:"queryId,omitempty"`
	NaturalQuery string  `json:"naturalQuery"`
	Score        float64 `json:"score"`
}

// ImpactAnalysis carries the evidence behind a candidate.
type ImpactAnalysis struct {
	Evidence []Evidence `json:"evidence"`
}

// EvolutionCandidate is a human-gated improvement proposal.
type EvolutionCandidate struct {
	ID              string          `json:"id"`
	Type            CandidateType   `json:"type"`
	TargetID        string          `json:"target_id"`
	Reasoning       string          `json:"reasoning"`
	ProposedChange  Value           `json:"proposed_change"`
	Impact          ImpactAnalysis  `json:"impact_analysis"`
	Status          CandidateStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	AdjustmentLogID *string         `json:"adjustment_log_id,omitempty"`
}

// TargetParameter is the config key an approved candidate writes.
func (c EvolutionCandidate) TargetParameter() string {
	return strings.ToLower(string(c.Type)) + "." + c.TargetID
}

// SignalType classifies a feedback signal.
type SignalType string

const (
	SignalTrustScore SignalType = "TRUST_SCORE"
	SignalError      SignalType = "ERROR_SIGNAL"
)

// Signal is one feedback observation about a target.
type Signal struct {
	ID           string     `json:"id"`
	TargetID     string     `json:"target_id"`
	Type         SignalType `json:"signal_type"`
	Score        float64    `json:"score"`
	Confidence   float64    `json:"confidence,omitempty"`
	QueryID      string     `json:"query_id,omitempty"`
	NaturalQuery string     `json:"natural_query,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MetricSample is a raw observation of a named metric.
type MetricSample struct {
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}
