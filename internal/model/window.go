package model

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// WindowIDPrefix prefixes every segment, feature file and window identifier.
	WindowIDPrefix = "window-"
	// WindowIDLayout is the timestamp layout embedded in identifiers.
	WindowIDLayout = "20060102150405"
)

// ErrInvalidWindowID is returned for names that do not follow window-<YYYYMMDDHHMMSS>.
var ErrInvalidWindowID = errors.New("invalid window identifier")

// WindowID derives the identifier for a window starting at start.
func WindowID(start time.Time) string {
	return WindowIDPrefix + start.UTC().Format(WindowIDLayout)
}

// ParseWindowID returns the UTC start time encoded in id.
func ParseWindowID(id string) (time.Time, error) {
	ts, ok := strings.CutPrefix(id, WindowIDPrefix)
	if !ok {
		return time.Time{}, errors.Wrapf(ErrInvalidWindowID, "%q", id)
	}
	start, err := time.ParseInLocation(WindowIDLayout, ts, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidWindowID, "%q: %v", id, err)
	}
	return start, nil
}

// WindowBounds returns the start and end of the window named by id.
func WindowBounds(id string, length time.Duration) (time.Time, time.Time, error) {
	start, err := ParseWindowID(id)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(length), nil
}

// WindowIDFromPath strips the directory and extension from a segment or feature file path.
func WindowIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FeatureStats summarises the observed values of one feature in a window.
type FeatureStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Window is the durable record of one aggregated capture window.
type Window struct {
	ID                string                  `json:"id"`
	StartTime         time.Time               `json:"start_time"`
	EndTime           time.Time               `json:"end_time"`
	TotalFlows        int64                   `json:"total_flows"`
	TotalPackets      int64                   `json:"total_packets"`
	TotalPayloadBytes int64                   `json:"total_payload_bytes"`
	BenignFlows       int64                   `json:"benign_flows"`
	AttackFlows       int64                   `json:"attack_flows"`
	UnknownFlows      int64                   `json:"unknown_flows"`
	LabelCounts       map[string]int64        `json:"attacks_per_label"`
	FeatureStats      map[string]FeatureStats `json:"feature_stats"`
	Narrative         string                  `json:"narrative"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// Duration returns the window length, never less than one second.
func (w *Window) Duration() time.Duration {
	d := w.EndTime.Sub(w.StartTime)
	if d < time.Second {
		return time.Second
	}
	return d
}

// Percent returns part as a percentage of the window's total flows.
func (w *Window) Percent(part int64) float64 {
	if w.TotalFlows == 0 {
		return 0
	}
	return 100 * float64(part) / float64(w.TotalFlows)
}

// UTC normalises every timestamp to UTC so serialised records are stable.
func (w *Window) UTC() *Window {
	w.StartTime = w.StartTime.UTC()
	w.EndTime = w.EndTime.UTC()
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w
}

// WindowFilter narrows a window listing.
type WindowFilter struct {
	From  time.Time // inclusive, on start time; zero means unbounded
	To    time.Time // exclusive, on start time; zero means unbounded
	Limit int       // zero means no limit
	// Ascending orders by start time oldest first; the default is newest first.
	Ascending bool
}
