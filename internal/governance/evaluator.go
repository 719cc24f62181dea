package governance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/model"
)

// Evidence describes the comparison that made a trigger fire.
type Evidence struct {
	TriggerID     string         `json:"trigger_id"`
	TriggerName   string         `json:"trigger_name"`
	Metric        string         `json:"metric"`
	Operator      model.Operator `json:"operator"`
	Threshold     float64        `json:"threshold"`
	ObservedValue float64        `json:"observed_value"`
}

// String renders "<name>: <metric> <op> <threshold> (observed <value>)".
func (e Evidence) String() string {
	return fmt.Sprintf("%s: %s %s %s (observed %s)",
		e.TriggerName, e.Metric, e.Operator.Symbol(),
		formatFloat(e.Threshold), formatFloat(e.ObservedValue))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// TriggerResult is the outcome of evaluating one trigger.
type TriggerResult struct {
	Fired         bool     `json:"fired"`
	ObservedValue float64  `json:"observed_value"`
	Evidence      Evidence `json:"evidence"`
	// Insufficient is set when the window had too little data to judge.
	Insufficient bool   `json:"insufficient,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Evaluator tests triggers against observed metric windows.
type Evaluator struct {
	reader WindowReader
}

// NewEvaluator creates an Evaluator backed by reader.
func NewEvaluator(reader WindowReader) *Evaluator {
	return &Evaluator{reader: reader}
}

// Evaluate reads the trigger's window and compares it to the threshold.
// It never returns an error: missing data or a broken trigger means not fired.
func (e *Evaluator) Evaluate(ctx context.Context, t model.Trigger) TriggerResult {
	res := TriggerResult{Evidence: Evidence{
		TriggerID:   t.ID,
		TriggerName: t.Name,
		Metric:      t.Metric,
		Operator:    t.Operator,
		Threshold:   t.Threshold,
	}}

	switch {
	case !t.IsActive:
		res.Note = "trigger inactive"
		triggerEvaluations.WithLabelValues("inactive").Inc()
		return res
	case t.WindowSeconds <= 0:
		res.Note = "invalid window"
		triggerEvaluations.WithLabelValues("invalid").Inc()
		return res
	case !t.Operator.Valid():
		res.Note = fmt.Sprintf("unknown operator %q", t.Operator)
		triggerEvaluations.WithLabelValues("invalid").Inc()
		return res
	}

	observed, err := e.reader.ReadWindow(ctx, t.Metric, t.WindowSeconds)
	if err != nil {
		res.Insufficient = true
		res.Note = "insufficient data"
		if errors.Is(err, context.Canceled) {
			res.Note = "cancelled"
		}
		triggerEvaluations.WithLabelValues("insufficient_data").Inc()
		zap.L().Debug("governance: trigger has insufficient data",
			zap.String("trigger", t.Name),
			zap.String("metric", t.Metric),
			zap.Error(err),
		)
		return res
	}

	res.ObservedValue = observed
	res.Evidence.ObservedValue = observed
	res.Fired = t.Operator.Compare(observed, t.Threshold)
	if res.Fired {
		triggerEvaluations.WithLabelValues("fired").Inc()
	} else {
		triggerEvaluations.WithLabelValues("not_fired").Inc()
	}
	return res
}
