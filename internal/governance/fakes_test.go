package governance

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

var errNoData = eris.New("insufficient data")

type fakeReader struct {
	mu     sync.Mutex
	values map[string]float64
	reads  int
}

func newFakeReader(values map[string]float64) *fakeReader {
	return &fakeReader{values: values}
}

func (f *fakeReader) ReadWindow(_ context.Context, metric string, _ int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	v, ok := f.values[metric]
	if !ok {
		return 0, errNoData
	}
	return v, nil
}

func (f *fakeReader) set(metric string, v float64) {
	f.mu.Lock()
	f.values[metric] = v
	f.mu.Unlock()
}

type memConfig struct {
	mu       sync.Mutex
	values   map[string]model.Value
	setErr   error
	writes   int
	setDelay time.Duration
}

func newMemConfig() *memConfig {
	return &memConfig{values: make(map[string]model.Value)}
}

func (m *memConfig) GetSetting(_ context.Context, key string) (*model.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memConfig) SetSetting(ctx context.Context, key string, v model.Value) error {
	if m.setDelay > 0 {
		select {
		case <-time.After(m.setDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.writes++
	m.values[key] = v
	return nil
}

func (m *memConfig) DeleteSetting(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	delete(m.values, key)
	return nil
}

func (m *memConfig) get(key string) (model.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

type memAudit struct {
	mu        sync.Mutex
	logs      map[string]*model.AdjustmentLog
	order     []string
	appendErr error
	seq       int
}

func newMemAudit() *memAudit {
	return &memAudit{logs: make(map[string]*model.AdjustmentLog)}
}

func (m *memAudit) AppendAdjustmentLog(_ context.Context, l *model.AdjustmentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.seq++
	l.ID = "log-" + strconv.Itoa(m.seq)
	cp := *l
	m.logs[l.ID] = &cp
	m.order = append(m.order, l.ID)
	return nil
}

func (m *memAudit) GetAdjustmentLog(_ context.Context, id string) (*model.AdjustmentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "adjustment log %s", id)
	}
	cp := *l
	return &cp, nil
}

func (m *memAudit) MarkReverted(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return store.ErrNotFound
	}
	if l.RevertedAt != nil {
		return store.ErrConflict
	}
	l.RevertedAt = &at
	return nil
}

func (m *memAudit) all() []model.AdjustmentLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AdjustmentLog, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.logs[id])
	}
	return out
}

type memRules struct {
	rules   []model.PolicyRule
	listErr error
}

func (m *memRules) ListRules(_ context.Context, filter store.RuleFilter) ([]model.PolicyRule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.PolicyRule
	for _, r := range m.rules {
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memSummaries struct {
	mu    sync.Mutex
	saved []*model.PassSummary
}

func (m *memSummaries) SavePassSummary(_ context.Context, p *model.PassSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, p)
	return nil
}

func (m *memSummaries) LatestPassSummary(_ context.Context) (*model.PassSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil, nil
	}
	return m.saved[len(m.saved)-1], nil
}

type fakeCluster struct {
	held     bool
	released int
	err      error
}

func (f *fakeCluster) TryPassLock(_ context.Context, _ int64) (func(context.Context), bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held {
		return nil, false, nil
	}
	return func(context.Context) { f.released++ }, true, nil
}

func trig(name, metric string, op model.Operator, threshold float64) model.Trigger {
	return model.Trigger{
		ID:            "t-" + name,
		Name:          name,
		Metric:        metric,
		Operator:      op,
		Threshold:     threshold,
		WindowSeconds: 300,
		IsActive:      true,
	}
}

func stabilizationRule() model.PolicyRule {
	return model.PolicyRule{
		ID:              "r-stabilize",
		Name:            "stabilize_operations",
		Area:            model.AreaOperation,
		TargetParameter: "auto_execute_enabled",
		AdjustmentValue: model.BoolValue(false),
		Method:          model.MethodImmediate,
		IsActive:        true,
		Triggers: []model.Trigger{
			trig("low_utilization", "utilization", model.OpLT, 20),
			trig("high_error_rate", "error_rate", model.OpGT, 5),
		},
	}
}
