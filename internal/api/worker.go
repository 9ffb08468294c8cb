package api

import (
	"net/http"
	"time"

	"Go2NetMon/internal/metrics"
	"Go2NetMon/internal/query"
)

func (h *Handler) workerHealth(w http.ResponseWriter, r *http.Request) {
	report := h.worker.Health()
	status := http.StatusOK
	if report.Status != metrics.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

func (h *Handler) workerMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.worker.Health().Metrics)
}

func (h *Handler) workerTrigger(w http.ResponseWriter, r *http.Request) {
	h.worker.Trigger()
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       "scheduled",
		"requested_at": h.now().Format(time.RFC3339),
	})
}

func (h *Handler) historyWindows(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 1000, 1, 10000)
	if err != nil {
		h.writeError(w, err)
		return
	}
	minAttacks, err := queryInt(r, "min_attack_flows", 0, 0, 1<<31-1)
	if err != nil {
		h.writeError(w, err)
		return
	}

	points, err := h.history.History(r.Context(), query.HistoryFilter{
		From:           from,
		To:             to,
		Label:          r.URL.Query().Get("label"),
		MinAttackFlows: int64(minAttacks),
		Limit:          limit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if points == nil {
		points = []query.HistoryPoint{}
	}
	h.writeJSON(w, http.StatusOK, points)
}

func (h *Handler) historyLabels(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	totals, err := h.history.LabelTotals(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if totals == nil {
		totals = []query.LabelTotal{}
	}
	h.writeJSON(w, http.StatusOK, totals)
}
