package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/governance-engine/internal/evolution"
	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

const defaultOperator = "api"

// GET /api/v1/candidates?status=&type=&limit=
func (h *Handlers) ListCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CandidateFilter{Status: model.CandidatePending, TargetID: q.Get("target_id")}

	if v := q.Get("status"); v != "" {
		if strings.EqualFold(v, "all") {
			filter.Status = ""
		} else {
			status, err := model.ParseCandidateStatus(v)
			if err != nil {
				respondErr(w, r, badRequest("%v", err))
				return
			}
			filter.Status = status
		}
	}
	if v := q.Get("type"); v != "" {
		filter.Type = model.CandidateType(strings.ToUpper(v))
		if filter.Type != model.CandidateMetadata && filter.Type != model.CandidatePrompt {
			respondErr(w, r, badRequest("unknown candidate type %q", v))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondErr(w, r, badRequest("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	candidates, err := h.deps.Store.ListCandidates(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(candidates))
}

type resolveRequest struct {
	Operator string `json:"operator" validate:"omitempty,max=128"`
}

// operator takes the resolving operator from the body, then X-Operator.
func operator(r *http.Request) (string, error) {
	var req resolveRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			return "", err
		}
	}
	if req.Operator != "" {
		return req.Operator, nil
	}
	if v := r.Header.Get("X-Operator"); v != "" {
		return v, nil
	}
	return defaultOperator, nil
}

// POST /api/v1/candidates/{id}/approve
func (h *Handlers) ApproveCandidate(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	c, err := h.deps.Workflow.Approve(r.Context(), chi.URLParam(r, "id"), op)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /api/v1/candidates/{id}/reject
func (h *Handlers) RejectCandidate(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	c, err := h.deps.Workflow.Reject(r.Context(), chi.URLParam(r, "id"), op)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /api/v1/candidates/generate
func (h *Handlers) GenerateCandidates(w http.ResponseWriter, r *http.Request) {
	created, err := h.deps.Scanner.Generate(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created":    len(created),
		"candidates": nonNil(created),
	})
}

// GET /api/v1/evolution/stats
func (h *Handlers) EvolutionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := evolution.Compute(r.Context(), h.deps.Store, h.deps.StatsWindow, h.now())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type signalRequest struct {
	TargetID     string  `json:"target_id" validate:"required,max=256"`
	SignalType   string  `json:"signal_type" validate:"required,oneof=TRUST_SCORE ERROR_SIGNAL"`
	Score        float64 `json:"score" validate:"gte=0"`
	Confidence   float64 `json:"confidence" validate:"gte=0,lte=1"`
	QueryID      string  `json:"query_id"`
	NaturalQuery string  `json:"natural_query" validate:"max=4096"`
}

// POST /api/v1/signals
func (h *Handlers) RecordSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	sig := model.Signal{
		TargetID:     req.TargetID,
		Type:         model.SignalType(req.SignalType),
		Score:        req.Score,
		Confidence:   req.Confidence,
		QueryID:      req.QueryID,
		NaturalQuery: req.NaturalQuery,
	}
	if err := h.deps.Store.RecordSignal(r.Context(), &sig); err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

type sampleRequest struct {
	Metric     string     `json:"metric" validate:"required,max=128"`
	Value      float64    `json:"value"`
	RecordedAt *time.Time `json:"recorded_at"`
}

type samplesRequest struct {
	Samples []sampleRequest `json:"samples" validate:"required,min=1,max=10000,dive"`
}

// POST /api/v1/metrics/samples
func (h *Handlers) RecordSamples(w http.ResponseWriter, r *http.Request) {
	var req samplesRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	now := h.now().UTC()
	samples := make([]model.MetricSample, len(req.Samples))
	for i, s := range req.Samples {
		at := now
		if s.RecordedAt != nil {
			at = s.RecordedAt.UTC()
		}
		samples[i] = model.MetricSample{Metric: s.Metric, Value: s.Value, RecordedAt: at}
	}

	n, err := h.deps.Store.RecordSamples(r.Context(), samples)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"recorded": n})
}
