package alerter

import (
	"testing"
	"time"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindow(total, attack, unknown int64, labels map[string]int64) *model.Window {
	start := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	if labels == nil {
		labels = map[string]int64{}
	}
	return &model.Window{
		ID:           model.WindowID(start),
		StartTime:    start,
		EndTime:      start.Add(5 * time.Minute),
		TotalFlows:   total,
		AttackFlows:  attack,
		UnknownFlows: unknown,
		BenignFlows:  total - attack - unknown,
		LabelCounts:  labels,
	}
}

func types(alerts []*model.Alert) []model.AlertType {
	out := make([]model.AlertType, len(alerts))
	for i, a := range alerts {
		out[i] = a.Type
	}
	return out
}

func TestEvaluate_AttackBoundary(t *testing.T) {
	cfg := config.Default().Alerts

	below := Evaluate(testWindow(100, 49, 0, nil), cfg)
	require.Len(t, below, 1)
	assert.Equal(t, model.AlertElevated, below[0].Type)
	assert.Equal(t, model.SeverityMedium, below[0].Severity)
	assert.Equal(t, "Elevated: Attack Activity Detected", below[0].Title)

	at := Evaluate(testWindow(100, 50, 0, nil), cfg)
	require.Len(t, at, 1)
	assert.Equal(t, model.AlertCritical, at[0].Type)
	assert.Equal(t, model.SeverityHigh, at[0].Severity)
	assert.Equal(t, "Window window-20250402100000 shows 50.0% attack flows (50 out of 100 flows). Immediate attention required.", at[0].Message)
	assert.Equal(t, "2025-04-02T10:00:00Z", at[0].Details["window_start"])

	assert.Empty(t, Evaluate(testWindow(100, 9, 0, nil), cfg))
	assert.Len(t, Evaluate(testWindow(100, 10, 0, nil), cfg), 1)
}

func TestEvaluate_UnknownCoFires(t *testing.T) {
	cfg := config.Default().Alerts
	alerts := Evaluate(testWindow(100, 60, 20, nil), cfg)
	assert.Equal(t, []model.AlertType{model.AlertCritical, model.AlertElevated}, types(alerts))
	assert.Equal(t, "Elevated: High Unknown Flow Rate", alerts[1].Title)
}

func TestEvaluate_VolumeAndLabels(t *testing.T) {
	cfg := config.Default().Alerts
	w := testWindow(2000, 30, 0, map[string]int64{"PortScan": 12, "DDoS": 18, "Bot": 9})
	alerts := Evaluate(w, cfg)

	require.Len(t, alerts, 3)
	assert.Equal(t, model.AlertInfo, alerts[0].Type)
	assert.Equal(t, model.SeverityLow, alerts[0].Severity)
	assert.Equal(t, "Elevated: DDoS Activity", alerts[1].Title)
	assert.Equal(t, "Elevated: PortScan Activity", alerts[2].Title)
	assert.EqualValues(t, 18, alerts[1].Details["count"])
}

func TestEvaluate_DisabledOrEmpty(t *testing.T) {
	cfg := config.Default().Alerts
	assert.Empty(t, Evaluate(testWindow(0, 0, 0, nil), cfg))

	cfg.Enabled = false
	assert.Empty(t, Evaluate(testWindow(100, 100, 0, map[string]int64{"DDoS": 100}), cfg))
}

type recordingNotifier struct {
	subjects []string
	bodies   []string
	err      error
}

func (n *recordingNotifier) Send(subject, body string) error {
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return n.err
}

func TestDispatcher(t *testing.T) {
	w := testWindow(100, 60, 20, nil)
	w.Narrative = "- mostly attack traffic"
	alerts := Evaluate(w, config.Default().Alerts)

	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("smtp down")}
	d := NewDispatcher(nil, ok, failing)

	cfg := config.Default().Notifications // critical only
	n, err := d.Dispatch(cfg, w, alerts)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, ok.bodies, 1)
	assert.Contains(t, ok.subjects[0], "(1 Triggered)")
	assert.Contains(t, ok.bodies[0], "<h2")
	assert.Contains(t, ok.bodies[0], "Critical: High Attack Rate Detected")
	assert.NotContains(t, ok.bodies[0], "High Unknown Flow Rate")
	assert.Contains(t, ok.bodies[0], "mostly attack traffic")
	assert.Len(t, failing.bodies, 1)

	cfg.AlertOnCritical = false
	n, err = d.Dispatch(cfg, w, alerts)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, ok.bodies, 1)
}
