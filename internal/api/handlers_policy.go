package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/governance-engine/internal/export"
	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

// Handlers implements the HTTP endpoints.
type Handlers struct {
	deps Deps
	now  func() time.Time
}

// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/triggers
func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.deps.Store.ListTriggers(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(triggers))
}

type createTriggerRequest struct {
	Name          string  `json:"name" validate:"required,max=128"`
	Metric        string  `json:"metric" validate:"required,max=128"`
	Operator      string  `json:"operator" validate:"required,oneof=LT GT LTE GTE EQ"`
	Threshold     float64 `json:"threshold"`
	WindowSeconds int     `json:"window_seconds" validate:"required,gt=0"`
	Description   string  `json:"description"`
	IsActive      *bool   `json:"is_active"`
}

// POST /api/v1/triggers
func (h *Handlers) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req createTriggerRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	t := model.Trigger{
		Name:          req.Name,
		Metric:        req.Metric,
		Operator:      model.Operator(req.Operator),
		Threshold:     req.Threshold,
		WindowSeconds: req.WindowSeconds,
		Description:   req.Description,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if err := h.deps.Store.CreateTrigger(r.Context(), &t); err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type updateTriggerRequest struct {
	Threshold     *float64 `json:"threshold"`
	WindowSeconds *int     `json:"window_seconds" validate:"omitempty,gt=0"`
	IsActive      *bool    `json:"is_active"`
	Description   *string  `json:"description"`
}

// PATCH /api/v1/triggers/{id}
func (h *Handlers) UpdateTrigger(w http.ResponseWriter, r *http.Request) {
	var req updateTriggerRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	t, err := h.deps.Store.UpdateTrigger(r.Context(), chi.URLParam(r, "id"), store.TriggerUpdate{
		Threshold:     req.Threshold,
		WindowSeconds: req.WindowSeconds,
		IsActive:      req.IsActive,
		Description:   req.Description,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GET /api/v1/rules?area=&active=
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	filter := store.RuleFilter{Area: model.PolicyArea(r.URL.Query().Get("area"))}
	if filter.Area != "" && !filter.Area.Valid() {
		respondErr(w, r, badRequest("unknown area %q", filter.Area))
		return
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			respondErr(w, r, badRequest("active must be a boolean"))
			return
		}
		filter.ActiveOnly = active
	}

	rules, err := h.deps.Store.ListRules(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rules))
}

type createRuleRequest struct {
	Name            string      `json:"name" validate:"required,max=128"`
	Area            string      `json:"area" validate:"required,oneof=OPERATION AI UX"`
	Description     string      `json:"description"`
	TriggerIDs      []string    `json:"trigger_ids" validate:"required,min=1,dive,required"`
	TargetParameter string      `json:"target_parameter" validate:"required,max=256"`
	AdjustmentValue model.Value `json:"adjustment_value"`
	Method          string      `json:"method" validate:"omitempty,oneof=IMMEDIATE PHASED"`
	Priority        int         `json:"priority"`
	IsActive        *bool       `json:"is_active"`
}

// POST /api/v1/rules
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if req.AdjustmentValue.Kind == "" {
		respondErr(w, r, badRequest("adjustment_value is required"))
		return
	}

	rule := model.PolicyRule{
		Name:            req.Name,
		Area:            model.PolicyArea(req.Area),
		Description:     req.Description,
		TargetParameter: req.TargetParameter,
		AdjustmentValue: req.AdjustmentValue,
		Method:          model.AdjustmentMethod(req.Method),
		Priority:        req.Priority,
		IsActive:        req.IsActive == nil || *req.IsActive,
	}
	if rule.Method == "" {
		rule.Method = model.MethodImmediate
	}
	for _, id := range req.TriggerIDs {
		t, err := h.deps.Store.GetTrigger(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondErr(w, r, badRequest("unknown trigger %s", id))
				return
			}
			respondErr(w, r, err)
			return
		}
		rule.Triggers = append(rule.Triggers, *t)
	}

	if err := h.deps.Store.CreateRule(r.Context(), &rule); err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// POST /api/v1/rules/{id}/toggle
func (h *Handlers) ToggleRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := h.deps.Store.GetRule(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.deps.Store.SetRuleActive(r.Context(), id, !rule.IsActive); err != nil {
		respondErr(w, r, err)
		return
	}
	rule.IsActive = !rule.IsActive
	writeJSON(w, http.StatusOK, rule)
}

// POST /api/v1/policy/run-check
func (h *Handlers) RunCheck(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Engine.RunPass(r.Context(), model.PassManual)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /api/v1/policy/summary
func (h *Handlers) PassSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Engine.Latest(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "no policy pass has run yet")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /api/v1/policy/metrics reports the current window value of every
// metric referenced by an active trigger.
func (h *Handlers) PolicyMetrics(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.deps.Store.ListTriggers(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	windows := make(map[string]int)
	for _, t := range triggers {
		if t.IsActive && t.WindowSeconds > windows[t.Metric] {
			windows[t.Metric] = t.WindowSeconds
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": nonNil(h.deps.Reader.Snapshot(r.Context(), windows)),
		"circuit": h.deps.Reader.BreakerState().String(),
	})
}

func logFilterFrom(r *http.Request) (store.LogFilter, error) {
	q := r.URL.Query()
	filter := store.LogFilter{
		RuleID: q.Get("rule_id"),
		Target: q.Get("target"),
	}
	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			return filter, badRequest("open must be a boolean")
		}
		filter.OnlyOpen = open
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, badRequest("since must be RFC3339")
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, badRequest("%s must be a non-negative integer", name)
			}
			*dst = n
		}
	}
	return filter, nil
}

// GET /api/v1/policy/logs
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilterFrom(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	logs, err := h.deps.Store.ListAdjustmentLogs(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(logs))
}

// GET /api/v1/policy/logs/export streams the filtered audit trail and the
// current settings as an XLSX workbook.
func (h *Handlers) ExportLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilterFrom(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 10000
	}
	logs, err := h.deps.Store.ListAdjustmentLogs(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	settings, err := h.deps.Store.ListSettings(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}

	name := fmt.Sprintf("governance-audit-%s.xlsx", h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := export.Write(w, export.Workbook{Logs: logs, Settings: settings}); err != nil {
		respondErr(w, r, err)
	}
}

// POST /api/v1/policy/logs/{id}/revert
func (h *Handlers) RevertLog(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.Reverter.Revert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
