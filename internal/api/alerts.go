package api

import (
	"context"
	"net/http"
	"strconv"

	"Go2NetMon/internal/model"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100, 1, 1000)
	if err != nil {
		h.writeError(w, err)
		return
	}
	f := model.AlertFilter{
		Severity: model.Severity(r.URL.Query().Get("severity")),
		Type:     model.AlertType(r.URL.Query().Get("alert_type")),
		WindowID: r.URL.Query().Get("window_id"),
		Limit:    limit,
	}
	if f.Acknowledged, err = queryBool(r, "acknowledged"); err != nil {
		h.writeError(w, err)
		return
	}
	if f.Resolved, err = queryBool(r, "resolved"); err != nil {
		h.writeError(w, err)
		return
	}

	alerts, err := h.store.ListAlerts(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*model.Alert{}
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

func alertID(r *http.Request) uint64 {
	// The route pattern only admits digits.
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetAlert(r.Context(), alertID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) markAlert(w http.ResponseWriter, r *http.Request, action string,
	mark func(ctx context.Context, id uint64) (*model.Alert, error)) {
	id := alertID(r)
	a, err := mark(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("Alert updated", zap.Uint64("alert_id", id), zap.String("action", action))
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.markAlert(w, r, "acknowledge", h.store.Acknowledge)
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	h.markAlert(w, r, "resolve", h.store.Resolve)
}
