package governance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

const defaultMaxParallelRules = 4

// EngineConfig tunes the policy pass.
type EngineConfig struct {
	MaxParallelRules int
	AdvisoryLockKey  int64
}

// Engine runs policy passes: resolve every active rule, then apply the
// satisfied ones.
type Engine struct {
	rules     RuleSource
	resolver  *Resolver
	executor  *Executor
	summaries SummarySink
	cluster   ClusterLocker
	cfg       EngineConfig

	pass  PassLock
	now   func() time.Time
	hooks []func(context.Context, *model.PassSummary)

	mu     sync.RWMutex
	latest *model.PassSummary
}

// NewEngine creates an Engine. summaries may be nil.
func NewEngine(rules RuleSource, resolver *Resolver, executor *Executor, summaries SummarySink, cfg EngineConfig) *Engine {
	if cfg.MaxParallelRules <= 0 {
		cfg.MaxParallelRules = defaultMaxParallelRules
	}
	return &Engine{
		rules:     rules,
		resolver:  resolver,
		executor:  executor,
		summaries: summaries,
		cfg:       cfg,
		now:       time.Now,
	}
}

// OnPass registers fn to run after every completed pass.
func (e *Engine) OnPass(fn func(context.Context, *model.PassSummary)) *Engine {
	e.hooks = append(e.hooks, fn)
	return e
}

// WithClusterLock makes passes also take a cross-instance lock.
func (e *Engine) WithClusterLock(l ClusterLocker) *Engine {
	e.cluster = l
	return e
}

type resolvedRule struct {
	rule model.PolicyRule
	res  Resolution
}

// RunPass runs one policy pass. Only one pass may be in flight; a second
// caller gets ErrPassInProgress. Per-rule failures are recorded in the
// summary and never abort the pass.
func (e *Engine) RunPass(ctx context.Context, trigger model.PassTrigger) (*model.PassSummary, error) {
	if !e.pass.TryLock() {
		passTotal.WithLabelValues(string(trigger), "busy").Inc()
		return nil, ErrPassInProgress
	}
	defer e.pass.Unlock()

	if e.cluster != nil {
		release, ok, err := e.cluster.TryPassLock(ctx, e.cfg.AdvisoryLockKey)
		if err != nil {
			passTotal.WithLabelValues(string(trigger), "error").Inc()
			return nil, eris.Wrap(err, "governance: acquire pass lock")
		}
		if !ok {
			passTotal.WithLabelValues(string(trigger), "busy").Inc()
			return nil, ErrPassInProgress
		}
		defer release(context.WithoutCancel(ctx))
	}

	log := zap.L().With(
		zap.String("component", "governance.engine"),
		zap.String("trigger", string(trigger)),
	)

	summary := &model.PassSummary{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: e.now().UTC(),
		Succeeded: []model.RuleOutcome{},
		Skipped:   []model.RuleOutcome{},
		Failed:    []model.RuleOutcome{},
	}

	rules, err := e.rules.ListRules(ctx, store.RuleFilter{ActiveOnly: true})
	if err != nil {
		passTotal.WithLabelValues(string(trigger), "error").Inc()
		return nil, eris.Wrap(err, "governance: list active rules")
	}

	resolved := e.resolveAll(ctx, rules)
	sortForApply(resolved)

	for _, rr := range resolved {
		outcome := model.RuleOutcome{
			RuleID:   rr.rule.ID,
			RuleName: rr.rule.Name,
			Target:   rr.rule.TargetParameter,
		}
		if !rr.res.Satisfied {
			outcome.Reason = rr.res.Describe()
			summary.Skipped = append(summary.Skipped, outcome)
			ruleOutcomes.WithLabelValues("skipped").Inc()
			continue
		}

		outcome.Reason = rr.res.Reason
		entry, err := e.executor.Apply(ctx, rr.rule, rr.res)
		if err != nil {
			outcome.Error = err.Error()
			summary.Failed = append(summary.Failed, outcome)
			ruleOutcomes.WithLabelValues("failed").Inc()
			log.Warn("governance: rule apply failed",
				zap.String("rule", rr.rule.Name),
				zap.Error(err),
			)
			continue
		}
		outcome.LogID = entry.ID
		summary.Succeeded = append(summary.Succeeded, outcome)
		ruleOutcomes.WithLabelValues("succeeded").Inc()
	}

	summary.Conflicts = conflicts(summary.Succeeded)
	for _, c := range summary.Conflicts {
		log.Warn("governance: same-parameter conflict", zap.String("conflict", c))
	}

	summary.FinishedAt = e.now().UTC()
	passDuration.Observe(summary.Duration().Seconds())
	passTotal.WithLabelValues(string(trigger), "completed").Inc()

	e.mu.Lock()
	e.latest = summary
	e.mu.Unlock()

	if e.summaries != nil {
		if err := e.summaries.SavePassSummary(context.WithoutCancel(ctx), summary); err != nil {
			log.Warn("governance: persist pass summary", zap.Error(err))
		}
	}

	for _, hook := range e.hooks {
		hook(context.WithoutCancel(ctx), summary)
	}

	log.Info("governance: pass complete",
		zap.String("pass_id", summary.ID),
		zap.Int("rules", len(rules)),
		zap.Int("succeeded", len(summary.Succeeded)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("failed", len(summary.Failed)),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, nil
}

func (e *Engine) resolveAll(ctx context.Context, rules []model.PolicyRule) []resolvedRule {
	out := make([]resolvedRule, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallelRules)
	for i, rule := range rules {
		g.Go(func() error {
			out[i] = resolvedRule{rule: rule, res: e.resolver.Resolve(gctx, rule)}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// sortForApply orders rules by priority ascending then name, so the highest
// priority rule writes a shared parameter last.
func sortForApply(rs []resolvedRule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].rule.Priority != rs[j].rule.Priority {
			return rs[i].rule.Priority < rs[j].rule.Priority
		}
		return rs[i].rule.Name < rs[j].rule.Name
	})
}

func conflicts(succeeded []model.RuleOutcome) []string {
	byTarget := make(map[string][]string)
	var order []string
	for _, o := range succeeded {
		if _, ok := byTarget[o.Target]; !ok {
			order = append(order, o.Target)
		}
		byTarget[o.Target] = append(byTarget[o.Target], o.RuleName)
	}

	var out []string
	for _, target := range order {
		names := byTarget[target]
		if len(names) < 2 {
			continue
		}
		out = append(out, fmt.Sprintf("%s written by %s (last: %s)",
			target, strings.Join(names, ", "), names[len(names)-1]))
	}
	return out
}

// Latest returns the most recent pass summary, falling back to the
// persisted one after a restart. It returns nil when no pass has run.
func (e *Engine) Latest(ctx context.Context) (*model.PassSummary, error) {
	e.mu.RLock()
	latest := e.latest
	e.mu.RUnlock()
	if latest != nil || e.summaries == nil {
		return latest, nil
	}
	p, err := e.summaries.LatestPassSummary(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "governance: load latest pass summary")
	}
	return p, nil
}

// Run starts the scheduled pass loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "governance.scheduler"))
	log.Info("starting policy scheduler", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("policy scheduler stopped")
			return
		case <-ticker.C:
			if _, err := e.RunPass(ctx, model.PassScheduled); err != nil {
				if eris.Is(err, ErrPassInProgress) {
					log.Debug("governance: skipping tick, pass in progress")
					continue
				}
				log.Error("governance: scheduled pass failed", zap.Error(err))
			}
		}
	}
}
