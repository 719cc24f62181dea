package governance

import (
	"context"
	"sort"
	"strings"

	"github.com/sells-group/governance-engine/internal/model"
)

// Skip reasons reported when a rule is not evaluated at all.
const (
	SkipInactive   = "inactive"
	SkipNoTriggers = "no_triggers"
)

// Resolution is the outcome of resolving one rule.
type Resolution struct {
	Satisfied  bool            `json:"satisfied"`
	Reason     string          `json:"reason,omitempty"`
	Results    []TriggerResult `json:"results,omitempty"`
	SkipReason string          `json:"skip_reason,omitempty"`
}

// Resolver decides whether a rule's triggers have all fired.
type Resolver struct {
	eval *Evaluator
}

// NewResolver creates a Resolver.
func NewResolver(eval *Evaluator) *Resolver {
	return &Resolver{eval: eval}
}

// Resolve evaluates every trigger of rule. A rule is satisfied only when it
// is active, has at least one trigger, and all triggers fired.
func (r *Resolver) Resolve(ctx context.Context, rule model.PolicyRule) Resolution {
	if !rule.IsActive {
		return Resolution{SkipReason: SkipInactive}
	}
	if len(rule.Triggers) == 0 {
		return Resolution{SkipReason: SkipNoTriggers}
	}

	res := Resolution{Satisfied: true, Results: make([]TriggerResult, 0, len(rule.Triggers))}
	for _, t := range rule.Triggers {
		tr := r.eval.Evaluate(ctx, t)
		res.Results = append(res.Results, tr)
		if !tr.Fired {
			res.Satisfied = false
		}
	}
	if res.Satisfied {
		res.Reason = Reason(res.Results)
	}
	return res
}

// Reason joins the evidence of fired results sorted by trigger name.
func Reason(results []TriggerResult) string {
	var ev []Evidence
	for _, r := range results {
		if r.Fired {
			ev = append(ev, r.Evidence)
		}
	}
	sort.SliceStable(ev, func(i, j int) bool {
		return ev[i].TriggerName < ev[j].TriggerName
	})

	parts := make([]string, len(ev))
	for i, e := range ev {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// Describe summarizes why an unsatisfied resolution did not fire.
func (r Resolution) Describe() string {
	if r.SkipReason != "" {
		return r.SkipReason
	}
	if r.Satisfied {
		return r.Reason
	}
	var waiting []string
	for _, tr := range r.Results {
		if tr.Fired {
			continue
		}
		name := tr.Evidence.TriggerName
		if tr.Note != "" {
			name += " (" + tr.Note + ")"
		}
		waiting = append(waiting, name)
	}
	return "not fired: " + strings.Join(waiting, ", ")
}
