package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/governance-engine/internal/config"
	"github.com/sells-group/governance-engine/internal/evolution"
	"github.com/sells-group/governance-engine/internal/governance"
	"github.com/sells-group/governance-engine/internal/metrics"
	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

type testServer struct {
	*httptest.Server
	store *store.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	reader := metrics.NewReader(metrics.NewStoreSource(st), config.MetricsConfig{MinSamples: 1, ReadTimeoutSecs: 5})
	exec := governance.NewExecutor(st, st, nil, time.Second)
	reverter := governance.NewReverter(exec)
	engine := governance.NewEngine(st, governance.NewResolver(governance.NewEvaluator(reader)), exec, st,
		governance.EngineConfig{MaxParallelRules: 2})

	evoCfg := config.EvolutionConfig{LowTrustThreshold: 0.6, MinSignals: 3, LookbackHours: 24}
	srv := httptest.NewServer(NewRouter(Deps{
		Store:       st,
		Engine:      engine,
		Reverter:    reverter,
		Reader:      reader,
		Workflow:    evolution.NewWorkflow(st, exec, reverter),
		Scanner:     evolution.NewScanner(st, evoCfg, nil),
		StatsWindow: 7 * 24 * time.Hour,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decodeInto[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func (s *testServer) createTrigger(t *testing.T, name, metric, op string, threshold float64) model.Trigger {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/triggers", map[string]any{
		"name": name, "metric": metric, "operator": op, "threshold": threshold, "window_seconds": 300,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	return decodeInto[model.Trigger](t, body)
}

func (s *testServer) seedStabilization(t *testing.T) model.PolicyRule {
	t.Helper()
	low := s.createTrigger(t, "low_utilization", "utilization", "LT", 20)
	high := s.createTrigger(t, "high_error_rate", "error_rate", "GT", 5)

	resp, body := s.do(t, http.MethodPost, "/api/v1/rules", map[string]any{
		"name":             "stabilize_operations",
		"area":             "OPERATION",
		"trigger_ids":      []string{low.ID, high.ID},
		"target_parameter": "auto_execute_enabled",
		"adjustment_value": map[string]any{"value": false},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	require.NoError(t, s.store.SetSetting(context.Background(), "auto_execute_enabled", model.BoolValue(true)))
	return decodeInto[model.PolicyRule](t, body)
}

func (s *testServer) postSamples(t *testing.T, utilization, errorRate float64) {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/metrics/samples", map[string]any{
		"samples": []map[string]any{
			{"metric": "utilization", "value": utilization},
			{"metric": "error_rate", "value": errorRate},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCreateTrigger_Validation(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/api/v1/triggers", map[string]any{
		"name": "bad", "metric": "utilization", "operator": "BETWEEN", "window_seconds": 300,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "operator failed oneof")

	resp, _ = s.do(t, http.MethodPost, "/api/v1/triggers", map[string]any{
		"name": "bad", "metric": "utilization", "operator": "LT", "window_seconds": 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/triggers", map[string]any{"unknown_field": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateTrigger(t *testing.T) {
	s := newTestServer(t)
	tr := s.createTrigger(t, "low_utilization", "utilization", "LT", 20)

	resp, body := s.do(t, http.MethodPatch, "/api/v1/triggers/"+tr.ID, map[string]any{
		"threshold": 15, "is_active": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	got := decodeInto[model.Trigger](t, body)
	assert.Equal(t, 15.0, got.Threshold)
	assert.False(t, got.IsActive)
	assert.Equal(t, 300, got.WindowSeconds)

	resp, _ = s.do(t, http.MethodPatch, "/api/v1/triggers/missing", map[string]any{"threshold": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPatch, "/api/v1/triggers/"+tr.ID, map[string]any{"window_seconds": -5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateRule_UnknownTrigger(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/api/v1/rules", map[string]any{
		"name": "r", "area": "UX", "trigger_ids": []string{"nope"},
		"target_parameter": "ui_mode", "adjustment_value": map[string]any{"value": "SIMPLE"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "unknown trigger nope")
}

func TestCreateRule_RequiresValue(t *testing.T) {
	s := newTestServer(t)
	tr := s.createTrigger(t, "t", "m", "GT", 1)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/rules", map[string]any{
		"name": "r", "area": "UX", "trigger_ids": []string{tr.ID}, "target_parameter": "ui_mode",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/rules", map[string]any{
		"name": "r", "area": "UX", "trigger_ids": []string{tr.ID}, "target_parameter": "ui_mode",
		"adjustment_value": map[string]any{"value": nil},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeInto[[]model.PolicyRule](t, body))
}

func TestRulesListAndToggle(t *testing.T) {
	s := newTestServer(t)
	rule := s.seedStabilization(t)
	assert.True(t, rule.IsActive)
	assert.Len(t, rule.Triggers, 2)

	resp, body := s.do(t, http.MethodPost, "/api/v1/rules/"+rule.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeInto[model.PolicyRule](t, body).IsActive)

	resp, body = s.do(t, http.MethodGet, "/api/v1/rules?active=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeInto[[]model.PolicyRule](t, body))

	resp, body = s.do(t, http.MethodGet, "/api/v1/rules?area=OPERATION", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeInto[[]model.PolicyRule](t, body), 1)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/rules?area=NOPE", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/rules/missing/toggle", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPolicyPass_ApplyAndRevert(t *testing.T) {
	s := newTestServer(t)
	s.seedStabilization(t)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/policy/summary", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.postSamples(t, 18, 7)

	resp, body := s.do(t, http.MethodPost, "/api/v1/policy/run-check", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	summary := decodeInto[model.PassSummary](t, body)
	require.Len(t, summary.Succeeded, 1)
	assert.Equal(t, model.PassManual, summary.Trigger)

	v, err := s.store.GetSetting(context.Background(), "auto_execute_enabled")
	require.NoError(t, err)
	assert.Equal(t, model.BoolValue(false), *v)

	resp, body = s.do(t, http.MethodGet, "/api/v1/policy/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, summary.ID, decodeInto[model.PassSummary](t, body).ID)

	resp, body = s.do(t, http.MethodGet, "/api/v1/policy/logs?open=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decodeInto[[]model.AdjustmentLog](t, body)
	require.Len(t, logs, 1)
	assert.Equal(t, summary.Succeeded[0].LogID, logs[0].ID)

	resp, body = s.do(t, http.MethodPost, "/api/v1/policy/logs/"+logs[0].ID+"/revert", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.NotNil(t, decodeInto[model.AdjustmentLog](t, body).RevertedAt)

	v, err = s.store.GetSetting(context.Background(), "auto_execute_enabled")
	require.NoError(t, err)
	assert.Equal(t, model.BoolValue(true), *v)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/policy/logs/"+logs[0].ID+"/revert", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/policy/logs/missing/revert", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPolicyPass_NotFired(t *testing.T) {
	s := newTestServer(t)
	s.seedStabilization(t)
	s.postSamples(t, 25, 7)

	resp, body := s.do(t, http.MethodPost, "/api/v1/policy/run-check", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decodeInto[model.PassSummary](t, body)
	assert.Empty(t, summary.Succeeded)
	assert.Len(t, summary.Skipped, 1)

	v, err := s.store.GetSetting(context.Background(), "auto_execute_enabled")
	require.NoError(t, err)
	assert.Equal(t, model.BoolValue(true), *v)
}

func TestPolicyMetrics(t *testing.T) {
	s := newTestServer(t)
	s.seedStabilization(t)
	s.postSamples(t, 18, 7)

	resp, body := s.do(t, http.MethodGet, "/api/v1/policy/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeInto[struct {
		Metrics []metrics.SnapshotEntry `json:"metrics"`
		Circuit string                  `json:"circuit"`
	}](t, body)
	assert.Len(t, out.Metrics, 2)
	assert.Equal(t, "closed", out.Circuit)
}

func TestLogsQueryValidation(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{"open=maybe", "limit=-1", "since=yesterday", "offset=x"} {
		resp, _ := s.do(t, http.MethodGet, "/api/v1/policy/logs?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestExportLogs(t *testing.T) {
	s := newTestServer(t)
	s.seedStabilization(t)
	s.postSamples(t, 18, 7)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/policy/run-check", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/api/v1/policy/logs/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "governance-audit-")

	f, err := xlsx.OpenBinary(body)
	require.NoError(t, err)
	assert.Len(t, f.Sheet["adjustments"].Rows, 2)
	assert.Len(t, f.Sheet["settings"].Rows, 2)
}

func TestCandidateWorkflow(t *testing.T) {
	s := newTestServer(t)

	for _, score := range []float64{0.2, 0.3, 0.4} {
		resp, body := s.do(t, http.MethodPost, "/api/v1/signals", map[string]any{
			"target_id": "ds-42", "signal_type": "TRUST_SCORE", "score": score, "natural_query": "revenue by region",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}

	resp, body := s.do(t, http.MethodPost, "/api/v1/candidates/generate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	gen := decodeInto[struct {
		Created    int                        `json:"created"`
		Candidates []model.EvolutionCandidate `json:"candidates"`
	}](t, body)
	require.Equal(t, 1, gen.Created)
	id := gen.Candidates[0].ID

	resp, body = s.do(t, http.MethodGet, "/api/v1/candidates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeInto[[]model.EvolutionCandidate](t, body), 1)

	resp, body = s.do(t, http.MethodPost, "/api/v1/candidates/"+id+"/approve", map[string]any{"operator": "ops@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	approved := decodeInto[model.EvolutionCandidate](t, body)
	assert.Equal(t, model.CandidateApproved, approved.Status)
	assert.Equal(t, "ops@example.com", approved.ResolvedBy)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/candidates/"+id+"/approve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/candidates/"+id+"/reject", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/candidates/missing/reject", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/candidates?status=applied", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeInto[[]model.EvolutionCandidate](t, body), 1)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/candidates?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/evolution/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeInto[evolution.Stats](t, body)
	assert.Equal(t, 1, stats.Candidates.Approved)
	assert.Equal(t, 3, stats.TrustScore.SampleSize)
	assert.InDelta(t, 0.3, stats.TrustScore.Average, 1e-9)
}

func TestRecordSignal_Validation(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/api/v1/signals", map[string]any{"target_id": "x", "signal_type": "OTHER"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "signal_type failed oneof")
}

func TestRecordSamples_Validation(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/metrics/samples", map[string]any{"samples": []any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/metrics/samples", map[string]any{
		"samples": []map[string]any{{"value": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(governance.ErrPassInProgress))
	assert.Equal(t, http.StatusConflict, statusFor(evolution.ErrInvalidState))
	assert.Equal(t, http.StatusNotFound, statusFor(governance.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(badRequest("x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
