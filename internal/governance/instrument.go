package governance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_passes_total",
		Help: "Policy passes by trigger and result",
	}, []string{"trigger", "result"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "governance_pass_duration_seconds",
		Help:    "Policy pass duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	ruleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_rule_outcomes_total",
		Help: "Rule outcomes per pass by outcome",
	}, []string{"outcome"})

	triggerEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_trigger_evaluations_total",
		Help: "Trigger evaluations by result (fired, not_fired, insufficient_data, inactive)",
	}, []string{"result"})

	adjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_adjustments_total",
		Help: "Configuration adjustments by result",
	}, []string{"result"})

	revertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_reverts_total",
		Help: "Adjustment reverts by result",
	}, []string{"result"})
)
