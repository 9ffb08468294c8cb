package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"Go2NetMon/internal/model"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const exportStampLayout = "20060102_150405"

func (h *Handler) listWindows(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0, 1, 100)
	if err != nil {
		h.writeError(w, err)
		return
	}
	windows, err := h.store.List(r.Context(), model.WindowFilter{Limit: limit})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, windows)
}

func (h *Handler) latestWindow(w http.ResponseWriter, r *http.Request) {
	window, err := h.store.Latest(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, window)
}

func (h *Handler) getWindow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := model.ParseWindowID(id); err != nil {
		h.writeError(w, err)
		return
	}
	window, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, window)
}

// exportWindows returns the windows in the requested range, oldest first.
func (h *Handler) exportWindows(r *http.Request) ([]*model.Window, error) {
	from, to, err := timeRange(r)
	if err != nil {
		return nil, err
	}
	return h.store.List(r.Context(), model.WindowFilter{From: from, To: to, Ascending: true})
}

func (h *Handler) attachment(w http.ResponseWriter, ext string) {
	name := fmt.Sprintf("netmon_export_%s.%s", h.now().Format(exportStampLayout), ext)
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
}

func (h *Handler) exportJSON(w http.ResponseWriter, r *http.Request) {
	windows, err := h.exportWindows(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.attachment(w, "json")
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if windows == nil {
		windows = []*model.Window{}
	}
	_ = enc.Encode(windows)
}

var csvHeader = []string{
	"ID", "Start Time", "End Time", "Total Flows", "Total Packets",
	"Benign Flows", "Attack Flows", "Unknown Flows", "Attack Percentage",
	"Total Payload Bytes", "Attacks Per Label",
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	windows, err := h.exportWindows(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.attachment(w, "csv")
	w.Header().Set("Content-Type", "text/csv")

	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for _, win := range windows {
		labels, _ := json.Marshal(win.LabelCounts)
		_ = cw.Write([]string{
			win.ID,
			win.StartTime.UTC().Format(time.RFC3339),
			win.EndTime.UTC().Format(time.RFC3339),
			strconv.FormatInt(win.TotalFlows, 10),
			strconv.FormatInt(win.TotalPackets, 10),
			strconv.FormatInt(win.BenignFlows, 10),
			strconv.FormatInt(win.AttackFlows, 10),
			strconv.FormatInt(win.UnknownFlows, 10),
			fmt.Sprintf("%.2f%%", win.Percent(win.AttackFlows)),
			strconv.FormatInt(win.TotalPayloadBytes, 10),
			string(labels),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("CSV export truncated", zap.Error(err))
	}
}

// Summary aggregates the stored windows of a time range.
type Summary struct {
	TotalWindows          int              `json:"total_windows"`
	TotalFlows            int64            `json:"total_flows"`
	TotalPackets          int64            `json:"total_packets"`
	TotalAttackFlows      int64            `json:"total_attack_flows"`
	TotalBenignFlows      int64            `json:"total_benign_flows"`
	TotalUnknownFlows     int64            `json:"total_unknown_flows"`
	AttackPercentage      float64          `json:"attack_percentage"`
	AverageFlowsPerWindow float64          `json:"average_flows_per_window"`
	LabelCounts           map[string]int64 `json:"attacks_per_label"`
	OpenAlerts            int64            `json:"open_alerts"`
	TimeRange             *TimeRange       `json:"time_range,omitempty"`
}

// TimeRange bounds the windows included in a Summary.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Summarize totals windows.
func Summarize(windows []*model.Window) Summary {
	s := Summary{TotalWindows: len(windows), LabelCounts: map[string]int64{}}
	for _, w := range windows {
		s.TotalFlows += w.TotalFlows
		s.TotalPackets += w.TotalPackets
		s.TotalAttackFlows += w.AttackFlows
		s.TotalBenignFlows += w.BenignFlows
		s.TotalUnknownFlows += w.UnknownFlows
		for label, n := range w.LabelCounts {
			s.LabelCounts[label] += n
		}
		if s.TimeRange == nil {
			s.TimeRange = &TimeRange{Start: w.StartTime, End: w.EndTime}
			continue
		}
		if w.StartTime.Before(s.TimeRange.Start) {
			s.TimeRange.Start = w.StartTime
		}
		if w.EndTime.After(s.TimeRange.End) {
			s.TimeRange.End = w.EndTime
		}
	}
	if s.TotalFlows > 0 {
		s.AttackPercentage = round2(100 * float64(s.TotalAttackFlows) / float64(s.TotalFlows))
	}
	if len(windows) > 0 {
		s.AverageFlowsPerWindow = round2(float64(s.TotalFlows) / float64(len(windows)))
	}
	return s
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	windows, err := h.exportWindows(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	s := Summarize(windows)
	if s.OpenAlerts, err = h.store.CountOpenAlerts(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}
