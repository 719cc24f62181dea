package model

import "time"

// PassTrigger names what started a policy pass.
type PassTrigger string

const (
	PassScheduled PassTrigger = "schedule"
	PassManual    PassTrigger = "manual"
	PassCLI       PassTrigger = "cli"
)

// RuleOutcome is the per-rule result of a pass.
type RuleOutcome struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Target   string `json:"target_parameter,omitempty"`
	Reason   string `json:"reason,omitempty"`
	LogID    string `json:"log_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PassSummary reports what a policy pass did.
type PassSummary struct {
	ID         string        `json:"id"`
	Trigger    PassTrigger   `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Succeeded  []RuleOutcome `json:"succeeded"`
	Skipped    []RuleOutcome `json:"skipped"`
	Failed     []RuleOutcome `json:"failed"`
	Conflicts  []string      `json:"conflicts,omitempty"`
}

// Duration returns how long the pass ran.
func (p PassSummary) Duration() time.Duration {
	return p.FinishedAt.Sub(p.StartedAt)
}
