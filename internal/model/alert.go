package model

import "time"

// AlertType classifies how urgent an alert is.
type AlertType string

const (
	AlertCritical AlertType = "critical"
	AlertElevated AlertType = "elevated"
	AlertInfo     AlertType = "info"
)

// Severity is the operator-facing severity of an alert.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Alert is an append-only record derived from a persisted window.
type Alert struct {
	ID             uint64         `json:"id"`
	WindowID       string         `json:"window_id"`
	Type           AlertType      `json:"alert_type"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"metadata"`
	Acknowledged   bool           `json:"acknowledged"`
	Resolved       bool           `json:"resolved"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// AlertFilter narrows an alert listing. Nil pointers leave a field unconstrained.
type AlertFilter struct {
	Acknowledged *bool
	Resolved     *bool
	Severity     Severity
	Type         AlertType
	WindowID     string
	Limit        int
}
