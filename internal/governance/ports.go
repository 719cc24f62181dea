// Package governance evaluates policy triggers, resolves rules and applies
// or reverts the resulting configuration changes with an audit trail.
package governance

import (
	"context"
	"time"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

// WindowReader returns the aggregated value of a metric over a trailing window.
type WindowReader interface {
	ReadWindow(ctx context.Context, metric string, windowSeconds int) (float64, error)
}

// ConfigStore holds the live named parameters that rules mutate.
// GetSetting returns nil, nil for a missing key.
type ConfigStore interface {
	GetSetting(ctx context.Context, key string) (*model.Value, error)
	SetSetting(ctx context.Context, key string, v model.Value) error
	DeleteSetting(ctx context.Context, key string) error
}

// AuditSink records applied adjustments.
type AuditSink interface {
	AppendAdjustmentLog(ctx context.Context, l *model.AdjustmentLog) error
	GetAdjustmentLog(ctx context.Context, id string) (*model.AdjustmentLog, error)
	MarkReverted(ctx context.Context, id string, at time.Time) error
}

// RuleSource lists the rules a pass considers.
type RuleSource interface {
	ListRules(ctx context.Context, filter store.RuleFilter) ([]model.PolicyRule, error)
}

// SummarySink persists pass summaries.
type SummarySink interface {
	SavePassSummary(ctx context.Context, p *model.PassSummary) error
	LatestPassSummary(ctx context.Context) (*model.PassSummary, error)
}

// ClusterLocker excludes passes across instances. ok is false when another
// instance holds the lock.
type ClusterLocker interface {
	TryPassLock(ctx context.Context, key int64) (release func(context.Context), ok bool, err error)
}
