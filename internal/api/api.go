// Package api serves the read surface over stored windows and alerts,
// together with the scheduler's health and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"Go2NetMon/internal/metrics"
	"Go2NetMon/internal/model"
	"Go2NetMon/internal/query"
	"Go2NetMon/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint.
const Version = "2.0.0"

// Store is the window and alert store the API reads from.
type Store interface {
	Ping(ctx context.Context) error
	List(ctx context.Context, f model.WindowFilter) ([]*model.Window, error)
	Latest(ctx context.Context) (*model.Window, error)
	Get(ctx context.Context, id string) (*model.Window, error)
	ListAlerts(ctx context.Context, f model.AlertFilter) ([]*model.Alert, error)
	GetAlert(ctx context.Context, id uint64) (*model.Alert, error)
	Acknowledge(ctx context.Context, id uint64) (*model.Alert, error)
	Resolve(ctx context.Context, id uint64) (*model.Alert, error)
	CountOpenAlerts(ctx context.Context) (int64, error)
}

// Worker is the in-process scheduler, when the API runs inside the engine.
type Worker interface {
	Health() metrics.HealthReport
	Trigger()
}

// Options wires the API. Store is required; the rest enable optional routes.
type Options struct {
	Store   Store
	Worker  Worker
	History query.Querier
	Metrics *metrics.Collectors
	Logger  *zap.Logger
}

// Handler holds the dependencies for API handlers.
type Handler struct {
	store   Store
	worker  Worker
	history query.Querier
	logger  *zap.Logger
	now     func() time.Time
}

// NewRouter builds the HTTP routes.
func NewRouter(opts Options) *mux.Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &Handler{
		store:   opts.Store,
		worker:  opts.Worker,
		history: opts.History,
		logger:  opts.Logger,
		now:     func() time.Time { return time.Now().UTC() },
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/health", h.health).Methods(http.MethodGet)

	r.HandleFunc("/api/windows", h.listWindows).Methods(http.MethodGet)
	r.HandleFunc("/api/windows/latest", h.latestWindow).Methods(http.MethodGet)
	r.HandleFunc("/api/windows/{id}", h.getWindow).Methods(http.MethodGet)
	r.HandleFunc("/api/export/json", h.exportJSON).Methods(http.MethodGet)
	r.HandleFunc("/api/export/csv", h.exportCSV).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/summary", h.summary).Methods(http.MethodGet)

	r.HandleFunc("/api/alerts", h.listAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts/{id:[0-9]+}", h.getAlert).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts/{id:[0-9]+}/acknowledge", h.acknowledgeAlert).Methods(http.MethodPost)
	r.HandleFunc("/api/alerts/{id:[0-9]+}/resolve", h.resolveAlert).Methods(http.MethodPost)

	if h.worker != nil {
		r.HandleFunc("/api/worker/health", h.workerHealth).Methods(http.MethodGet)
		r.HandleFunc("/api/worker/metrics", h.workerMetrics).Methods(http.MethodGet)
		r.HandleFunc("/api/worker/trigger", h.workerTrigger).Methods(http.MethodPost)
	}
	if h.history != nil {
		r.HandleFunc("/api/history", h.historyWindows).Methods(http.MethodGet)
		r.HandleFunc("/api/history/labels", h.historyLabels).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, model.ErrInvalidWindowID):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

func queryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, errors.Wrapf(errBadRequest, "%s must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.Wrapf(errBadRequest, "%s must be a boolean", key)
	}
	return &b, nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(errBadRequest, "%s must be an RFC3339 timestamp", key)
	}
	return t.UTC(), nil
}

// timeRange reads the start_time and end_time query parameters.
func timeRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := queryTime(r, "start_time")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := queryTime(r, "end_time")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, errors.Wrap(errBadRequest, "start_time must be before end_time")
	}
	return from, to, nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("Store ping failed", zap.Error(err))
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": h.now().Format(time.RFC3339),
		"version":   Version,
	})
}
