package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/config"
	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRevertRate        AlertType = "revert_rate"
	AlertRuleFailures      AlertType = "rule_failures"
	AlertCandidateBacklog  AlertType = "candidate_backlog"
	AlertAdjustmentApplied AlertType = "adjustment_applied"
)

// minAdjustmentsForRate avoids alerting on a revert rate computed from a handful of writes.
const minAdjustmentsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.LogRetry("webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.RevertRateThreshold > 0 && snap.AdjustmentsApplied >= minAdjustmentsForRate &&
		snap.RevertRate > a.cfg.RevertRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRevertRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Revert rate %.1f%% exceeds threshold %.1f%% (%d reverted / %d applied in last %dh)",
				snap.RevertRate*100, a.cfg.RevertRateThreshold*100,
				snap.AdjustmentsReverted, snap.AdjustmentsApplied, snap.LookbackHours,
			),
			Details: map[string]any{
				"revert_rate": snap.RevertRate,
				"threshold":   a.cfg.RevertRateThreshold,
				"reverted":    snap.AdjustmentsReverted,
				"applied":     snap.AdjustmentsApplied,
			},
			Timestamp: now,
		})
	}

	if snap.LastPassFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRuleFailures,
			Severity: "high",
			Message:  fmt.Sprintf("%d rule(s) failed to apply in pass %s", snap.LastPassFailed, snap.LastPassID),
			Details: map[string]any{
				"pass_id":      snap.LastPassID,
				"failed_count": snap.LastPassFailed,
			},
			Timestamp: now,
		})
	}

	if a.cfg.PendingBacklogLimit > 0 && snap.PendingCandidates > a.cfg.PendingBacklogLimit {
		alerts = append(alerts, Alert{
			Type:     AlertCandidateBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d evolution candidates awaiting review (limit %d)",
				snap.PendingCandidates, a.cfg.PendingBacklogLimit),
			Details: map[string]any{
				"pending": snap.PendingCandidates,
				"limit":   a.cfg.PendingBacklogLimit,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// PassAlerts returns one alert per adjustment a pass applied, when
// alert_on_apply is enabled.
func (a *Alerter) PassAlerts(p *model.PassSummary) []Alert {
	if !a.cfg.AlertOnApply || p == nil {
		return nil
	}
	alerts := make([]Alert, 0, len(p.Succeeded))
	for _, o := range p.Succeeded {
		alerts = append(alerts, Alert{
			Type:     AlertAdjustmentApplied,
			Severity: "info",
			Message:  fmt.Sprintf("Rule %s set %s", o.RuleName, o.Target),
			Details: map[string]any{
				"pass_id": p.ID,
				"rule_id": o.RuleID,
				"log_id":  o.LogID,
				"reason":  o.Reason,
			},
			Timestamp: p.FinishedAt,
		})
	}
	return alerts
}

// NotifyPass sends PassAlerts for p. It is meant to be registered as an
// engine pass hook.
func (a *Alerter) NotifyPass(ctx context.Context, p *model.PassSummary) {
	a.SendAlerts(ctx, a.PassAlerts(p))
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
