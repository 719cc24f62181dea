package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/governance-engine/internal/model"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = eris.New("not found")
	// ErrConflict is returned when a conditional update matched no row
	// because the row has already moved past the expected state.
	ErrConflict = eris.New("state conflict")
)

const defaultListLimit = 100

func newID() string {
	return uuid.New().String()
}

func encodeValue(v model.Value) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode value")
	}
	return b, nil
}

// encodeOptValue returns nil for a missing value so the column is NULL.
func encodeOptValue(v *model.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	return encodeValue(*v)
}

func decodeValue(b []byte) (model.Value, error) {
	var v model.Value
	if err := json.Unmarshal(b, &v); err != nil {
		return v, eris.Wrap(err, "store: decode value")
	}
	return v, nil
}

func decodeOptValue(b []byte) (*model.Value, error) {
	if len(b) == 0 {
		return nil, nil
	}
	v, err := decodeValue(b)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func normalizeTrigger(t *model.Trigger) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return eris.New("store: trigger name is required")
	}
	if t.Metric == "" {
		return eris.New("store: trigger metric is required")
	}
	if !t.Operator.Valid() {
		return eris.Errorf("store: invalid operator %q", t.Operator)
	}
	if t.WindowSeconds <= 0 {
		return eris.Errorf("store: trigger %s window must be > 0", t.Name)
	}
	if t.ID == "" {
		t.ID = newID()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return nil
}

func normalizeRule(r *model.PolicyRule) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return eris.New("store: rule name is required")
	}
	if r.TargetParameter == "" {
		return eris.New("store: rule target parameter is required")
	}
	if !r.Area.Valid() {
		return eris.Errorf("store: invalid area %q", r.Area)
	}
	if !r.Method.Valid() {
		return eris.Errorf("store: invalid method %q", r.Method)
	}
	seen := make(map[string]bool, len(r.Triggers))
	for _, t := range r.Triggers {
		if t.ID == "" {
			return eris.Errorf("store: rule %s references a trigger without id", r.Name)
		}
		if seen[t.ID] {
			return eris.Errorf("store: rule %s references trigger %s twice", r.Name, t.ID)
		}
		seen[t.ID] = true
	}
	if r.ID == "" {
		r.ID = newID()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return nil
}

func applyTriggerUpdate(t *model.Trigger, upd TriggerUpdate) error {
	if upd.Threshold != nil {
		t.Threshold = *upd.Threshold
	}
	if upd.WindowSeconds != nil {
		if *upd.WindowSeconds <= 0 {
			return eris.Errorf("store: trigger %s window must be > 0", t.Name)
		}
		t.WindowSeconds = *upd.WindowSeconds
	}
	if upd.IsActive != nil {
		t.IsActive = *upd.IsActive
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// attachTriggers groups joined trigger rows onto their rules, preserving
// the rule order and the trigger position order.
func attachTriggers(rules []model.PolicyRule, byRule map[string][]model.Trigger) {
	for i := range rules {
		rules[i].Triggers = byRule[rules[i].ID]
		if rules[i].Triggers == nil {
			rules[i].Triggers = []model.Trigger{}
		}
	}
}
