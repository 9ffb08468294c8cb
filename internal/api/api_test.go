package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/metrics"
	"Go2NetMon/internal/model"
	"Go2NetMon/internal/query"
	"Go2NetMon/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 5, 5, 11, 0, 0, 0, time.UTC)

func seed(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, config.StorageConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	for i := range 3 {
		start := base.Add(time.Duration(i) * 5 * time.Minute)
		attacks := int64(10 * i)
		require.NoError(t, st.Upsert(ctx, &model.Window{
			ID:           model.WindowID(start),
			StartTime:    start,
			EndTime:      start.Add(5 * time.Minute),
			TotalFlows:   100,
			TotalPackets: 1000,
			BenignFlows:  100 - attacks,
			AttackFlows:  attacks,
			LabelCounts:  map[string]int64{"DDoS": attacks},
		}))
	}
	require.NoError(t, st.CreateAlerts(ctx, []*model.Alert{
		{WindowID: model.WindowID(base), Type: model.AlertCritical, Severity: model.SeverityHigh, Title: "a", Details: map[string]any{}},
		{WindowID: model.WindowID(base), Type: model.AlertInfo, Severity: model.SeverityLow, Title: "b", Details: map[string]any{}},
	}))
	return st
}

type fakeWorker struct {
	report    metrics.HealthReport
	triggered int
}

func (w *fakeWorker) Health() metrics.HealthReport { return w.report }
func (w *fakeWorker) Trigger()                     { w.triggered++ }

type fakeHistory struct{ filter query.HistoryFilter }

func (h *fakeHistory) History(_ context.Context, f query.HistoryFilter) ([]query.HistoryPoint, error) {
	h.filter = f
	return []query.HistoryPoint{{WindowID: "window-20250505110000", TotalFlows: 5}}, nil
}

func (h *fakeHistory) LabelTotals(context.Context, time.Time, time.Time) ([]query.LabelTotal, error) {
	return []query.LabelTotal{{Label: "DDoS", Flows: 30}}, nil
}

func (h *fakeHistory) Close() error { return nil }

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestWindows(t *testing.T) {
	r := NewRouter(Options{Store: seed(t)})

	rec := do(t, r, http.MethodGet, "/api/windows?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	windows := decode[[]model.Window](t, rec)
	require.Len(t, windows, 2)
	assert.Equal(t, "window-20250505111000", windows[0].ID)

	rec = do(t, r, http.MethodGet, "/api/windows?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/windows/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "window-20250505111000", decode[model.Window](t, rec).ID)

	rec = do(t, r, http.MethodGet, "/api/windows/window-20250505110500")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 10, decode[model.Window](t, rec).AttackFlows)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/windows/window-20240101000000").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/windows/bogus").Code)
}

func TestLatest_Empty(t *testing.T) {
	st, err := store.Open(context.Background(), config.StorageConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	defer st.Close()

	r := NewRouter(Options{Store: st})
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/windows/latest").Code)
	rec := do(t, r, http.MethodGet, "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestExport(t *testing.T) {
	r := NewRouter(Options{Store: seed(t)})

	rec := do(t, r, http.MethodGet, "/api/export/json?start_time=2025-05-05T11:05:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=netmon_export_")
	windows := decode[[]model.Window](t, rec)
	require.Len(t, windows, 2)
	assert.Equal(t, "window-20250505110500", windows[0].ID, "oldest first")

	rec = do(t, r, http.MethodGet, "/api/export/csv?end_time=2025-05-05T11:05:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "window-20250505110000", records[1][0])
	assert.Equal(t, "0.00%", records[1][8])

	rec = do(t, r, http.MethodGet, "/api/export/json?start_time=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, r, http.MethodGet, "/api/export/json?start_time=2025-05-05T12:00:00Z&end_time=2025-05-05T11:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary(t *testing.T) {
	r := NewRouter(Options{Store: seed(t)})
	rec := do(t, r, http.MethodGet, "/api/analytics/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	s := decode[Summary](t, rec)
	assert.Equal(t, 3, s.TotalWindows)
	assert.EqualValues(t, 300, s.TotalFlows)
	assert.EqualValues(t, 30, s.TotalAttackFlows)
	assert.InDelta(t, 10.0, s.AttackPercentage, 1e-9)
	assert.InDelta(t, 100.0, s.AverageFlowsPerWindow, 1e-9)
	assert.EqualValues(t, 30, s.LabelCounts["DDoS"])
	assert.EqualValues(t, 2, s.OpenAlerts)
	require.NotNil(t, s.TimeRange)
	assert.True(t, s.TimeRange.Start.Equal(base))
	assert.True(t, s.TimeRange.End.Equal(base.Add(15*time.Minute)))

	empty := Summarize(nil)
	assert.Zero(t, empty.AttackPercentage)
	assert.Nil(t, empty.TimeRange)
}

func TestAlerts(t *testing.T) {
	r := NewRouter(Options{Store: seed(t)})

	rec := do(t, r, http.MethodGet, "/api/alerts?severity=high")
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decode[[]model.Alert](t, rec)
	require.Len(t, alerts, 1)
	id := alerts[0].ID

	rec = do(t, r, http.MethodPost, "/api/alerts/"+jsonID(id)+"/acknowledge")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Alert](t, rec).Acknowledged)

	rec = do(t, r, http.MethodGet, "/api/alerts?acknowledged=true")
	assert.Len(t, decode[[]model.Alert](t, rec), 1)

	rec = do(t, r, http.MethodPost, "/api/alerts/"+jsonID(id)+"/resolve")
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[model.Alert](t, rec)
	assert.True(t, a.Resolved)
	assert.NotNil(t, a.ResolvedAt)

	rec = do(t, r, http.MethodGet, "/api/alerts/"+jsonID(id))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/alerts/999/resolve").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/alerts?resolved=maybe").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/alerts/abc/resolve").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, r, http.MethodGet, "/api/alerts/1/resolve").Code)
}

func jsonID(id uint64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestWorkerRoutes(t *testing.T) {
	st := seed(t)
	worker := &fakeWorker{report: metrics.HealthReport{Status: metrics.StatusDegraded}}
	r := NewRouter(Options{Store: st, Worker: worker, Metrics: metrics.NewCollectors()})

	rec := do(t, r, http.MethodGet, "/api/worker/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, metrics.StatusDegraded, decode[metrics.HealthReport](t, rec).Status)

	worker.report.Status = metrics.StatusHealthy
	worker.report.Metrics.ProcessedWindows = 7
	rec = do(t, r, http.MethodGet, "/api/worker/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, decode[metrics.Snapshot](t, rec).ProcessedWindows)

	rec = do(t, r, http.MethodPost, "/api/worker/trigger")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, worker.triggered)

	rec = do(t, r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "netmon_ticks_total")

	rec = do(t, r, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestOptionalRoutesAbsent(t *testing.T) {
	r := NewRouter(Options{Store: seed(t)})
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/worker/health").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/history").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/metrics").Code)
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{}
	r := NewRouter(Options{Store: seed(t), History: hist})

	rec := do(t, r, http.MethodGet, "/api/history?start_time=2025-05-05T00:00:00Z&label=DDoS&min_attack_flows=3&limit=50")
	require.Equal(t, http.StatusOK, rec.Code)
	points := decode[[]query.HistoryPoint](t, rec)
	require.Len(t, points, 1)
	assert.Equal(t, "DDoS", hist.filter.Label)
	assert.EqualValues(t, 3, hist.filter.MinAttackFlows)
	assert.Equal(t, 50, hist.filter.Limit)
	assert.True(t, hist.filter.From.Equal(time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)))

	rec = do(t, r, http.MethodGet, "/api/history/labels")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []query.LabelTotal{{Label: "DDoS", Flows: 30}}, decode[[]query.LabelTotal](t, rec))
}
