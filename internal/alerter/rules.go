// Package alerter evaluates persisted windows against static thresholds and
// notifies operators about the resulting alerts.
package alerter

import (
	"fmt"
	"slices"
	"time"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/model"
)

// CriticalAttackPercent is the attack share at which a window is critical.
const CriticalAttackPercent = 50.0

// Evaluate returns the alert drafts for w. It has no side effects; the caller
// persists the result. Attack-rate rules are mutually exclusive: a window at
// or above CriticalAttackPercent yields only the critical alert.
func Evaluate(w *model.Window, cfg config.AlertsConfig) []*model.Alert {
	if !cfg.Enabled || w == nil || w.TotalFlows <= 0 {
		return nil
	}

	var alerts []*model.Alert
	add := func(t model.AlertType, sev model.Severity, title, msg string, details map[string]any) {
		details["window_start"] = w.StartTime.UTC().Format(time.RFC3339)
		alerts = append(alerts, &model.Alert{
			WindowID: w.ID,
			Type:     t,
			Severity: sev,
			Title:    title,
			Message:  msg,
			Details:  details,
		})
	}

	attackPct := w.Percent(w.AttackFlows)
	unknownPct := w.Percent(w.UnknownFlows)

	switch {
	case attackPct >= CriticalAttackPercent:
		add(model.AlertCritical, model.SeverityHigh,
			"Critical: High Attack Rate Detected",
			fmt.Sprintf("Window %s shows %.1f%% attack flows (%d out of %d flows). Immediate attention required.",
				w.ID, attackPct, w.AttackFlows, w.TotalFlows),
			map[string]any{"attack_percent": attackPct, "attack_flows": w.AttackFlows, "total_flows": w.TotalFlows})
	case attackPct >= cfg.AttackPercentThreshold:
		add(model.AlertElevated, model.SeverityMedium,
			"Elevated: Attack Activity Detected",
			fmt.Sprintf("Window %s shows %.1f%% attack flows (%d out of %d flows). Review recommended.",
				w.ID, attackPct, w.AttackFlows, w.TotalFlows),
			map[string]any{"attack_percent": attackPct, "attack_flows": w.AttackFlows, "total_flows": w.TotalFlows})
	}

	if unknownPct >= cfg.UnknownPercentThreshold {
		add(model.AlertElevated, model.SeverityMedium,
			"Elevated: High Unknown Flow Rate",
			fmt.Sprintf("Window %s shows %.1f%% unknown flows (%d out of %d flows). Investigation recommended.",
				w.ID, unknownPct, w.UnknownFlows, w.TotalFlows),
			map[string]any{"unknown_percent": unknownPct, "unknown_flows": w.UnknownFlows, "total_flows": w.TotalFlows})
	}

	if w.TotalFlows >= int64(cfg.FlowCountThreshold) {
		add(model.AlertInfo, model.SeverityLow,
			"Info: High Traffic Volume",
			fmt.Sprintf("Window %s shows high traffic volume: %d flows. This may indicate increased activity or potential DDoS.",
				w.ID, w.TotalFlows),
			map[string]any{"total_flows": w.TotalFlows})
	}

	labelThreshold := int64(cfg.LabelCountThreshold)
	if labelThreshold <= 0 {
		labelThreshold = 10
	}
	labels := make([]string, 0, len(w.LabelCounts))
	for label := range w.LabelCounts {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		count := w.LabelCounts[label]
		if count < labelThreshold {
			continue
		}
		add(model.AlertElevated, model.SeverityMedium,
			fmt.Sprintf("Elevated: %s Activity", label),
			fmt.Sprintf("Window %s detected %d flows classified as '%s'. Review recommended.", w.ID, count, label),
			map[string]any{"attack_label": label, "count": count})
	}

	return alerts
}
