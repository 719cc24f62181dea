// Package seed loads trigger, rule, and setting definitions from YAML and
// writes them to the store.
package seed

import (
	"context"
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

//go:embed default.yaml
var defaultSeed []byte

// File is the on-disk seed layout.
type File struct {
	Triggers []TriggerDef   `yaml:"triggers"`
	Rules    []RuleDef      `yaml:"rules"`
	Settings map[string]any `yaml:"settings"`
}

// TriggerDef describes one trigger.
type TriggerDef struct {
	Name          string  `yaml:"name"`
	Metric        string  `yaml:"metric"`
	Operator      string  `yaml:"operator"`
	Threshold     float64 `yaml:"threshold"`
	WindowSeconds int     `yaml:"window_seconds"`
	Description   string  `yaml:"description"`
	Inactive      bool    `yaml:"inactive"`
}

// RuleDef describes one rule. Triggers reference trigger names.
type RuleDef struct {
	Name            string   `yaml:"name"`
	Area            string   `yaml:"area"`
	Description     string   `yaml:"description"`
	Triggers        []string `yaml:"triggers"`
	TargetParameter string   `yaml:"target_parameter"`
	Value           any      `yaml:"value"`
	Method          string   `yaml:"method"`
	Priority        int      `yaml:"priority"`
	Inactive        bool     `yaml:"inactive"`
}

// Store is the persistence surface the seeder writes through.
type Store interface {
	ListTriggers(ctx context.Context) ([]model.Trigger, error)
	CreateTrigger(ctx context.Context, t *model.Trigger) error
	ListRules(ctx context.Context, filter store.RuleFilter) ([]model.PolicyRule, error)
	CreateRule(ctx context.Context, r *model.PolicyRule) error
	ImportSettings(ctx context.Context, settings []model.Setting, onlyMissing bool) (int64, error)
}

// Result counts what Apply wrote.
type Result struct {
	TriggersCreated int   `json:"triggers_created"`
	RulesCreated    int   `json:"rules_created"`
	RulesSkipped    int   `json:"rules_skipped"`
	SettingsWritten int64 `json:"settings_written"`
}

// Default returns the built-in seed.
func Default() (*File, error) {
	return Parse(defaultSeed)
}

// Load reads a seed file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates seed YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "seed: parse")
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	names := make(map[string]bool, len(f.Triggers))
	for _, t := range f.Triggers {
		if t.Name == "" || t.Metric == "" {
			return eris.Errorf("seed: trigger %q needs a name and metric", t.Name)
		}
		if !model.Operator(t.Operator).Valid() {
			return eris.Errorf("seed: trigger %s: invalid operator %q", t.Name, t.Operator)
		}
		if t.WindowSeconds <= 0 {
			return eris.Errorf("seed: trigger %s: window_seconds must be positive", t.Name)
		}
		if names[t.Name] {
			return eris.Errorf("seed: duplicate trigger %s", t.Name)
		}
		names[t.Name] = true
	}
	for _, r := range f.Rules {
		if r.Name == "" || r.TargetParameter == "" {
			return eris.Errorf("seed: rule %q needs a name and target_parameter", r.Name)
		}
		if !model.PolicyArea(r.Area).Valid() {
			return eris.Errorf("seed: rule %s: invalid area %q", r.Name, r.Area)
		}
		if r.Method != "" && !model.AdjustmentMethod(r.Method).Valid() {
			return eris.Errorf("seed: rule %s: invalid method %q", r.Name, r.Method)
		}
		if _, err := model.ValueFromAny(r.Value); err != nil {
			return eris.Wrapf(err, "seed: rule %s", r.Name)
		}
	}
	for k, v := range f.Settings {
		if _, err := model.ValueFromAny(v); err != nil {
			return eris.Wrapf(err, "seed: setting %s", k)
		}
	}
	return nil
}

// Apply writes the seed. Triggers and rules whose names already exist are
// left alone, so Apply can run on every start. Settings are only written
// when missing unless overwrite is set.
func Apply(ctx context.Context, st Store, f *File, overwrite bool) (*Result, error) {
	log := zap.L().With(zap.String("component", "seed"))
	res := &Result{}

	existing, err := st.ListTriggers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "seed: list triggers")
	}
	byName := make(map[string]model.Trigger, len(existing))
	for _, t := range existing {
		byName[t.Name] = t
	}

	for _, def := range f.Triggers {
		if _, ok := byName[def.Name]; ok {
			continue
		}
		t := model.Trigger{
			Name:          def.Name,
			Metric:        def.Metric,
			Operator:      model.Operator(def.Operator),
			Threshold:     def.Threshold,
			WindowSeconds: def.WindowSeconds,
			Description:   def.Description,
			IsActive:      !def.Inactive,
		}
		if err := st.CreateTrigger(ctx, &t); err != nil {
			return nil, eris.Wrapf(err, "seed: create trigger %s", def.Name)
		}
		byName[t.Name] = t
		res.TriggersCreated++
		log.Info("created trigger", zap.String("name", t.Name), zap.String("id", t.ID))
	}

	rules, err := st.ListRules(ctx, store.RuleFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "seed: list rules")
	}
	haveRule := make(map[string]bool, len(rules))
	for _, r := range rules {
		haveRule[r.Name] = true
	}

	for _, def := range f.Rules {
		if haveRule[def.Name] {
			continue
		}
		var triggers []model.Trigger
		for _, name := range def.Triggers {
			if t, ok := byName[name]; ok {
				triggers = append(triggers, t)
			}
		}
		if len(triggers) == 0 {
			log.Warn("skipping rule, no triggers found", zap.String("name", def.Name))
			res.RulesSkipped++
			continue
		}

		value, _ := model.ValueFromAny(def.Value)
		method := model.AdjustmentMethod(def.Method)
		if method == "" {
			method = model.MethodImmediate
		}
		r := model.PolicyRule{
			Name:            def.Name,
			Area:            model.PolicyArea(def.Area),
			Description:     def.Description,
			Triggers:        triggers,
			TargetParameter: def.TargetParameter,
			AdjustmentValue: value,
			Method:          method,
			IsActive:        !def.Inactive,
			Priority:        def.Priority,
		}
		if err := st.CreateRule(ctx, &r); err != nil {
			return nil, eris.Wrapf(err, "seed: create rule %s", def.Name)
		}
		res.RulesCreated++
		log.Info("created rule", zap.String("name", r.Name), zap.Int("triggers", len(triggers)))
	}

	if len(f.Settings) > 0 {
		keys := make([]string, 0, len(f.Settings))
		for k := range f.Settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		settings := make([]model.Setting, 0, len(keys))
		for _, k := range keys {
			v, _ := model.ValueFromAny(f.Settings[k])
			settings = append(settings, model.Setting{Key: k, Value: v})
		}
		n, err := st.ImportSettings(ctx, settings, !overwrite)
		if err != nil {
			return nil, eris.Wrap(err, "seed: import settings")
		}
		res.SettingsWritten = n
	}

	return res, nil
}
