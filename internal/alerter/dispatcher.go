package alerter

import (
	"fmt"
	"strings"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/model"

	"github.com/gomarkdown/markdown"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Dispatcher forwards newly created alerts to operators through every
// configured notifier.
type Dispatcher struct {
	notifiers []model.Notifier
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. With no notifiers it only logs.
func NewDispatcher(logger *zap.Logger, notifiers ...model.Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{notifiers: notifiers, logger: logger}
}

// Wants reports whether alerts of type t should reach an operator.
func Wants(cfg config.NotificationsConfig, t model.AlertType) bool {
	switch t {
	case model.AlertCritical:
		return cfg.AlertOnCritical
	case model.AlertElevated:
		return cfg.AlertOnElevated
	case model.AlertInfo:
		return cfg.AlertOnInfo
	default:
		return false
	}
}

// Dispatch sends one consolidated notification for the alerts of w that the
// configuration opts into. It returns the number of alerts included.
func (d *Dispatcher) Dispatch(cfg config.NotificationsConfig, w *model.Window, alerts []*model.Alert) (int, error) {
	var selected []*model.Alert
	for _, a := range alerts {
		if Wants(cfg, a.Type) {
			selected = append(selected, a)
		}
	}
	if len(selected) == 0 || len(d.notifiers) == 0 {
		return 0, nil
	}

	subject := fmt.Sprintf("Go2NetMon Alert Summary for %s (%d Triggered)", w.ID, len(selected))
	body := string(markdown.ToHTML([]byte(Summary(w, selected)), nil, nil))

	var result *multierror.Error
	for _, n := range d.notifiers {
		if err := n.Send(subject, body); err != nil {
			d.logger.Error("Failed to send alert notification", zap.String("window_id", w.ID), zap.Error(err))
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		d.logger.Info("Alert notification sent", zap.String("window_id", w.ID), zap.Int("alerts", len(selected)))
	}
	return len(selected), result.ErrorOrNil()
}

// Summary renders alerts as Markdown, followed by the window narrative.
func Summary(w *model.Window, alerts []*model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Go2NetMon Alert Summary\n\n")
	fmt.Fprintf(&b, "Window **%s** (%s to %s UTC), %d flows.\n\n",
		w.ID, w.StartTime.UTC().Format("2006-01-02 15:04:05"), w.EndTime.UTC().Format("2006-01-02 15:04:05"), w.TotalFlows)
	for _, a := range alerts {
		fmt.Fprintf(&b, "## %s\n\n", a.Title)
		fmt.Fprintf(&b, "*Type:* %s, *severity:* %s\n\n", a.Type, a.Severity)
		fmt.Fprintf(&b, "%s\n\n", a.Message)
	}
	if w.Narrative != "" {
		fmt.Fprintf(&b, "---\n\n## Window Narrative\n\n%s\n", w.Narrative)
	}
	return b.String()
}
