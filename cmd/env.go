package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/evolution"
	"github.com/sells-group/governance-engine/internal/governance"
	"github.com/sells-group/governance-engine/internal/metrics"
	"github.com/sells-group/governance-engine/internal/store"
)

// governorEnv holds the store and the governance components built on it.
type governorEnv struct {
	Store    store.Store
	Reader   *metrics.Reader
	Executor *governance.Executor
	Reverter *governance.Reverter
	Engine   *governance.Engine
	Workflow *evolution.Workflow
	Scanner  *evolution.Scanner

	closeSource func()
}

// Close releases resources held by the environment.
func (e *governorEnv) Close() {
	if e.closeSource != nil {
		e.closeSource()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// statsWindow is the trust-score averaging window for evolution stats.
func statsWindow() time.Duration {
	return time.Duration(cfg.Evolution.StatsWindowDays) * 24 * time.Hour
}

// initEnv opens the store and wires the engine, reverter, and candidate
// workflow. Callers should defer env.Close().
func initEnv(ctx context.Context) (*governorEnv, error) {
	if err := cfg.Validate("check"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	src, closeSource, err := initMetricSource(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reader := metrics.NewReader(src, cfg.Metrics)
	exec := governance.NewExecutor(st, st, nil, cfg.Governance.WriteTimeout())
	reverter := governance.NewReverter(exec)
	resolver := governance.NewResolver(governance.NewEvaluator(reader))
	engine := governance.NewEngine(st, resolver, exec, st, governance.EngineConfig{
		MaxParallelRules: cfg.Governance.MaxParallelRules,
		AdvisoryLockKey:  cfg.Governance.AdvisoryLockKey,
	})
	if locker, ok := st.(governance.ClusterLocker); ok {
		engine.WithClusterLock(locker)
		zap.L().Debug("cluster pass lock enabled", zap.Int64("key", cfg.Governance.AdvisoryLockKey))
	}

	return &governorEnv{
		Store:       st,
		Reader:      reader,
		Executor:    exec,
		Reverter:    reverter,
		Engine:      engine,
		Workflow:    evolution.NewWorkflow(st, exec, reverter),
		Scanner:     evolution.NewScanner(st, cfg.Evolution, evolution.NewDrafter(cfg.Anthropic)),
		closeSource: closeSource,
	}, nil
}
