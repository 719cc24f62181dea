// Package api exposes the operator HTTP surface of the governance engine.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/governance-engine/internal/evolution"
	"github.com/sells-group/governance-engine/internal/governance"
	"github.com/sells-group/governance-engine/internal/metrics"
	"github.com/sells-group/governance-engine/internal/store"
)

// Deps wires the services the handlers call.
type Deps struct {
	Store    store.Store
	Engine   *governance.Engine
	Reverter *governance.Reverter
	Reader   *metrics.Reader
	Workflow *evolution.Workflow
	Scanner  *evolution.Scanner
	// StatsWindow is the trust-score window for evolution stats.
	StatsWindow time.Duration
}

// NewRouter builds the chi router with all routes mounted.
func NewRouter(d Deps) *chi.Mux {
	h := &Handlers{deps: d, now: time.Now}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Operator"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/health", h.Health)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/triggers", h.ListTriggers)
		r.Post("/triggers", h.CreateTrigger)
		r.Patch("/triggers/{id}", h.UpdateTrigger)

		r.Get("/rules", h.ListRules)
		r.Post("/rules", h.CreateRule)
		r.Post("/rules/{id}/toggle", h.ToggleRule)

		r.Post("/policy/run-check", h.RunCheck)
		r.Get("/policy/summary", h.PassSummary)
		r.Get("/policy/metrics", h.PolicyMetrics)
		r.Get("/policy/logs", h.ListLogs)
		r.Get("/policy/logs/export", h.ExportLogs)
		r.Post("/policy/logs/{id}/revert", h.RevertLog)

		r.Get("/candidates", h.ListCandidates)
		r.Post("/candidates/generate", h.GenerateCandidates)
		r.Post("/candidates/{id}/approve", h.ApproveCandidate)
		r.Post("/candidates/{id}/reject", h.RejectCandidate)
		r.Get("/evolution/stats", h.EvolutionStats)

		r.Post("/signals", h.RecordSignal)
		r.Post("/metrics/samples", h.RecordSamples)
	})

	return r
}
