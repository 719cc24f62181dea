package model

import (
	"time"
)

// Operator is a trigger comparison operator.
type Operator string

const (
	OpLT  Operator = "LT"
	OpGT  Operator = "GT"
	OpLTE Operator = "LTE"
	OpGTE Operator = "GTE"
	OpEQ  Operator = "EQ"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpLT, OpGT, OpLTE, OpGTE, OpEQ:
		return true
	}
	return false
}

// Compare applies the operator to observed vs threshold.
// LT and GT are strict: equality never satisfies them.
func (o Operator) Compare(observed, threshold float64) bool {
	switch o {
	case OpLT:
		return observed < threshold
	case OpGT:
		return observed > threshold
	case OpLTE:
		return observed <= threshold
	case OpGTE:
		return observed >= threshold
	case OpEQ:
		return observed == threshold
	default:
		return false
	}
}

// Symbol returns the operator as a math symbol for reason strings.
func (o Operator) Symbol() string {
	switch o {
	case OpLT:
		return "<"
	case OpGT:
		return ">"
	case OpLTE:
		return "<="
	case OpGTE:
		return ">="
	case OpEQ:
		return "=="
	default:
		return string(o)
	}
}

// Trigger is a named metric condition evaluated over a rolling window.
type Trigger struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Metric        string    `json:"metric"`
	Operator      Operator  `json:"operator"`
	Threshold     float64   `json:"threshold"`
	WindowSeconds int       `json:"window_seconds"`
	Description   string    `json:"description,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Window returns the evaluation window as a duration.
func (t Trigger) Window() time.Duration {
	return time.Duration(t.WindowSeconds) * time.Second
}

// PolicyArea groups rules for display.
type PolicyArea string

const (
	AreaOperation PolicyArea = "OPERATION"
	AreaAI        PolicyArea = "AI"
	AreaUX        PolicyArea = "UX"
)

// Valid reports whether a is a known area.
func (a PolicyArea) Valid() bool {
	return a == AreaOperation || a == AreaAI || a == AreaUX
}

// AdjustmentMethod controls how a rule's change is rolled out.
type AdjustmentMethod string

const (
	MethodImmediate AdjustmentMethod = "IMMEDIATE"
	MethodPhased    AdjustmentMethod = "PHASED"
)

// Valid reports whether m is a known method.
func (m AdjustmentMethod) Valid() bool {
	return m == MethodImmediate || m == MethodPhased
}

// PolicyRule fires when every attached trigger fires, setting
// TargetParameter to AdjustmentValue.
type PolicyRule struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Area            PolicyArea       `json:"area"`
	Description     string           `json:"description,omitempty"`
	Triggers        []Trigger        `json:"triggers"`
	TargetParameter string           `json:"target_parameter"`
	AdjustmentValue Value            `json:"adjustment_value"`
	Method          AdjustmentMethod `json:"method"`
	IsActive        bool             `json:"is_active"`
	Priority        int              `json:"priority"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// TriggerIDs returns the attached trigger ids in order.
func (r PolicyRule) TriggerIDs() []string {
	ids := make([]string, len(r.Triggers))
	for i, t := range r.Triggers {
		ids[i] = t.ID
	}
	return ids
}

// AdjustmentLog is the audit record of one configuration write.
// It is mutated exactly once, when reverted.
type AdjustmentLog struct {
	ID              string           `json:"id"`
	RuleID          *string          `json:"rule_id,omitempty"`
	CandidateID     *string          `json:"candidate_id,omitempty"`
	TargetParameter string           `json:"target_parameter"`
	Method          AdjustmentMethod `json:"method"`
	Reason          string           `json:"reason"`
	PreviousValue   *Value           `json:"previous_value"`
	NewValue        Value            `json:"new_value"`
	AppliedAt       time.Time        `json:"applied_at"`
	RevertedAt      *time.Time       `json:"reverted_at,omitempty"`
}

// Reverted reports whether the entry has been reverted.
func (l AdjustmentLog) Reverted() bool {
	return l.RevertedAt != nil
}

// Setting is a named configuration parameter.
type Setting struct {
	Key       string    `json:"key"`
	Value     Value     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
