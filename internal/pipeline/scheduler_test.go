package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Go2NetMon/internal/archive"
	"Go2NetMon/internal/classifier"
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/extractor"
	"Go2NetMon/internal/metrics"
	"Go2NetMon/internal/model"
	"Go2NetMon/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	segmentID = "window-20250505115500"
	threeRows = "duration,packets_count,total_payload_bytes\n0.5,10,1000\n0.5,10,1000\n0.5,10,1000\n"
)

// toolRunner stands in for the extraction tool. It writes rows to the output
// named in the tool config, or fails every call.
type toolRunner struct {
	mu    sync.Mutex
	calls int
	fail  bool
	rows  string
}

func (r *toolRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.fail {
		return nil, []byte("boom"), errors.New("exit status 1")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return nil, nil, err
	}
	var tc struct {
		Output string `json:"output_file_address"`
	}
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, nil, err
	}
	if r.rows == "" {
		return nil, nil, nil
	}
	return nil, nil, os.WriteFile(tc.Output, []byte(r.rows), 0o644)
}

func (r *toolRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type staticModel struct {
	label string
	prob  float64
}

func (m staticModel) PredictProba([]float64) ([]string, []float64, error) {
	return []string{m.label, "other"}, []float64{m.prob, 1 - m.prob}, nil
}

type recordingDispatcher struct{ windows []string }

func (d *recordingDispatcher) Dispatch(_ config.NotificationsConfig, w *model.Window, alerts []*model.Alert) (int, error) {
	d.windows = append(d.windows, w.ID)
	return len(alerts), nil
}

type recordingPublisher struct {
	windows []string
	alerts  int
}

func (p *recordingPublisher) PublishWindow(w *model.Window, _ bool) error {
	p.windows = append(p.windows, w.ID)
	return nil
}

func (p *recordingPublisher) PublishAlert(*model.Alert) error {
	p.alerts++
	return nil
}

type fixture struct {
	cfg        *config.Config
	store      *store.Store
	runner     *toolRunner
	dispatcher *recordingDispatcher
	publisher  *recordingPublisher
	archiveDir string
	sched      *Scheduler
}

func newFixture(t *testing.T, label string) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.PcapDir = t.TempDir()
	cfg.Capture.CSVDir = t.TempDir()
	cfg.Capture.MinSegmentAge = "0s"
	cfg.Extractor.BinaryPath = "ntlflowlyzer"
	cfg.Extractor.RetryDelay = "0s"
	cfg.Extractor.MaxRetries = 2

	st, err := store.Open(context.Background(), config.StorageConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	archiveDir := t.TempDir()
	sink, err := archive.NewJSONWriter(config.ArchiveSinkDef{Type: "json", Enabled: true, RootPath: archiveDir}, nil)
	require.NoError(t, err)

	f := &fixture{
		cfg:        cfg,
		store:      st,
		runner:     &toolRunner{rows: threeRows},
		dispatcher: &recordingDispatcher{},
		publisher:  &recordingPublisher{},
		archiveDir: archiveDir,
	}
	f.sched, err = New(Deps{
		Source:     config.Static(cfg),
		Store:      st,
		Extractor:  extractor.New(f.runner, nil),
		Classifier: classifier.NewAdapter(staticModel{label: label, prob: 0.99}, 0.9, nil),
		Dispatcher: f.dispatcher,
		Archiver:   archive.New([]model.Writer{sink}, nil),
		Publisher:  f.publisher,
		Metrics:    metrics.NewRecorder(nil),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) writeSegment(t *testing.T, id string) {
	t.Helper()
	path := filepath.Join(f.cfg.Capture.PcapDir, id+".pcap")
	file, err := os.Create(path)
	require.NoError(t, err)
	w := pcapgo.NewWriter(file)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	payload := make([]byte, 60)
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1746446100, 0), CaptureLength: len(payload), Length: len(payload)}
	require.NoError(t, w.WritePacket(ci, payload))
	require.NoError(t, file.Close())

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
}

func (f *fixture) writeFeatureFile(t *testing.T, id, rows string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Capture.CSVDir, id+".csv"), []byte(rows), 0o644))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
	_, err = New(Deps{Source: config.Static(config.Default())})
	assert.Error(t, err)
}

func TestTick_SegmentToAlertedWindow(t *testing.T) {
	f := newFixture(t, "DDoS")
	f.writeSegment(t, segmentID)
	ctx := context.Background()

	report := f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Extracted)
	assert.Equal(t, []string{segmentID}, report.WindowsStored)
	assert.Equal(t, 1, f.runner.Calls())

	w, err := f.store.Get(ctx, segmentID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, w.TotalFlows)
	assert.EqualValues(t, 30, w.TotalPackets)
	assert.EqualValues(t, 3, w.AttackFlows)
	assert.EqualValues(t, 3, w.LabelCounts["DDoS"])
	assert.True(t, w.StartTime.Equal(time.Date(2025, 5, 5, 11, 55, 0, 0, time.UTC)))
	assert.Equal(t, 5*time.Minute, w.EndTime.Sub(w.StartTime))
	assert.Contains(t, w.Narrative, "- Window:")

	alerts, err := f.store.ListAlerts(ctx, model.AlertFilter{WindowID: segmentID})
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, model.AlertCritical, alerts[0].Type)
	assert.Equal(t, len(alerts), report.AlertsCreated)
	assert.Equal(t, []string{segmentID}, f.dispatcher.windows)
	assert.Equal(t, []string{segmentID}, f.publisher.windows)
	assert.Equal(t, len(alerts), f.publisher.alerts)

	archived, err := archive.Load(f.archiveDir, segmentID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, archived.TotalFlows)

	// The feature file now exists and the window is stored, so nothing repeats.
	report = f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Zero(t, report.Extracted)
	assert.Empty(t, report.WindowsStored)
	assert.Equal(t, 1, f.runner.Calls())

	snap := f.sched.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.Ticks)
	assert.EqualValues(t, 1, snap.ProcessedPcaps)
	assert.EqualValues(t, 1, snap.ProcessedWindows)
	assert.EqualValues(t, 3, snap.Classifications)
}

func TestTick_ZeroRowFileIsNeverPersisted(t *testing.T) {
	f := newFixture(t, "Benign")
	f.runner.rows = ""
	f.writeSegment(t, segmentID)
	ctx := context.Background()

	report := f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.EmptySkipped)
	assert.Empty(t, report.WindowsStored)

	// The same empty file is neither re-extracted nor counted again.
	report = f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Zero(t, report.EmptySkipped)
	assert.Equal(t, 1, f.runner.Calls())

	exists, err := f.store.Exists(ctx, segmentID)
	require.NoError(t, err)
	assert.False(t, exists)

	f.writeFeatureFile(t, "window-20250505120000", "duration,packets_count\n")
	report = f.sched.Tick(ctx, f.cfg)
	assert.Equal(t, 1, report.EmptySkipped)
	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 2, f.sched.Metrics().Snapshot().SkippedEmptyFiles)

	// A rewritten file is read again.
	f.writeFeatureFile(t, segmentID, threeRows)
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(f.cfg.Capture.CSVDir, segmentID+".csv"), later, later))
	report = f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Equal(t, []string{segmentID}, report.WindowsStored)
	assert.Zero(t, report.EmptySkipped)
}

func TestTick_NonFiniteFeatureValuesAreStored(t *testing.T) {
	f := newFixture(t, "Benign")
	f.writeFeatureFile(t, segmentID, "duration,packets_count,total_payload_bytes,bytes_rate\n"+
		"0,10,1000,inf\n"+
		"0.5,10,1000,100\n")
	ctx := context.Background()

	report := f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Equal(t, []string{segmentID}, report.WindowsStored)

	w, err := f.store.Get(ctx, segmentID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, w.TotalFlows)
	assert.Equal(t, model.FeatureStats{Mean: 100, Min: 100, Max: 100}, w.FeatureStats["bytes_rate"])
	assert.Zero(t, f.sched.Metrics().Snapshot().StoreErrors)
}

// alertFailingStore stores windows but refuses every alert.
type alertFailingStore struct {
	*store.Store
}

func (alertFailingStore) CreateAlerts(context.Context, []*model.Alert) error {
	return errors.New("alerts table unavailable")
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(config.NotificationsConfig, *model.Window, []*model.Alert) (int, error) {
	panic("smtp client exploded")
}

func TestTick_AlertFailureKeepsStoredWindow(t *testing.T) {
	tests := []struct {
		name        string
		store       func(*store.Store) Store
		dispatcher  Dispatcher
		alerts      int
		storeErrors int64
	}{
		{
			name:        "alert write fails",
			store:       func(st *store.Store) Store { return alertFailingStore{st} },
			dispatcher:  &recordingDispatcher{},
			storeErrors: 1,
		},
		{
			name:       "notification panics",
			store:      func(st *store.Store) Store { return st },
			dispatcher: panickingDispatcher{},
			alerts:     1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "DDoS")
			sched, err := New(Deps{
				Source:     config.Static(f.cfg),
				Store:      tt.store(f.store),
				Extractor:  extractor.New(f.runner, nil),
				Classifier: classifier.NewAdapter(staticModel{label: "DDoS", prob: 0.99}, 0.9, nil),
				Dispatcher: tt.dispatcher,
				Metrics:    metrics.NewRecorder(nil),
			})
			require.NoError(t, err)
			f.writeFeatureFile(t, segmentID, threeRows)
			ctx := context.Background()

			report := sched.Tick(ctx, f.cfg)
			require.NoError(t, report.Err)
			assert.Equal(t, []string{segmentID}, report.WindowsStored)
			assert.Zero(t, report.AlertsCreated)

			exists, err := f.store.Exists(ctx, segmentID)
			require.NoError(t, err)
			assert.True(t, exists)

			stored, err := f.store.ListAlerts(ctx, model.AlertFilter{WindowID: segmentID})
			require.NoError(t, err)
			if tt.alerts > 0 {
				assert.NotEmpty(t, stored)
			} else {
				assert.Empty(t, stored)
			}

			snap := sched.Metrics().Snapshot()
			assert.EqualValues(t, 1, snap.ProcessedWindows)
			assert.EqualValues(t, 1, snap.TotalErrors)
			assert.Equal(t, tt.storeErrors, snap.StoreErrors)

			// The window is not rebuilt on the next tick.
			report = sched.Tick(ctx, f.cfg)
			require.NoError(t, report.Err)
			assert.Empty(t, report.WindowsStored)
		})
	}
}

func TestTick_ExhaustedExtractionIsRetriedNextTick(t *testing.T) {
	f := newFixture(t, "Benign")
	f.runner.fail = true
	f.writeSegment(t, segmentID)
	ctx := context.Background()

	report := f.sched.Tick(ctx, f.cfg)
	require.Error(t, report.Err)
	assert.True(t, errors.Is(report.Err, extractor.ErrExtractionFailed))
	assert.Equal(t, 1, report.ExtractionFailures)
	assert.Equal(t, 1+f.cfg.Extractor.MaxRetries, f.runner.Calls())
	assert.NoFileExists(t, filepath.Join(f.cfg.Capture.CSVDir, segmentID+".csv"))

	report = f.sched.Tick(ctx, f.cfg)
	assert.Equal(t, 1, report.ExtractionFailures)
	assert.Equal(t, 2*(1+f.cfg.Extractor.MaxRetries), f.runner.Calls())

	f.runner.fail = false
	report = f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Equal(t, []string{segmentID}, report.WindowsStored)

	snap := f.sched.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.ExtractionErrors)
}

func TestReprocess_UpdatesInPlace(t *testing.T) {
	f := newFixture(t, "Benign")
	f.writeFeatureFile(t, segmentID, threeRows)
	ctx := context.Background()

	report := f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	first, err := f.store.Get(ctx, segmentID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, first.TotalFlows)

	f.writeFeatureFile(t, segmentID, threeRows+"1.0,4,400\n")

	// A plain tick does not touch a stored window.
	report = f.sched.Tick(ctx, f.cfg)
	assert.Empty(t, report.WindowsStored)
	unchanged, err := f.store.Get(ctx, segmentID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, unchanged.TotalFlows)

	w, err := f.sched.Reprocess(ctx, f.cfg, segmentID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, w.TotalFlows)

	stored, err := f.store.Get(ctx, segmentID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stored.TotalFlows)
	assert.EqualValues(t, 34, stored.TotalPackets)
	assert.True(t, first.CreatedAt.Equal(stored.CreatedAt))
	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{segmentID, segmentID}, f.publisher.windows)
}

func TestReprocess_NotReady(t *testing.T) {
	f := newFixture(t, "Benign")
	ctx := context.Background()

	_, err := f.sched.Reprocess(ctx, f.cfg, segmentID)
	assert.ErrorIs(t, err, ErrNotReady)

	f.writeFeatureFile(t, segmentID, "")
	_, err = f.sched.Reprocess(ctx, f.cfg, segmentID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = f.sched.Reprocess(ctx, f.cfg, "not-a-window")
	assert.ErrorIs(t, err, model.ErrInvalidWindowID)
}

func TestTick_PrunesToRetention(t *testing.T) {
	f := newFixture(t, "Benign")
	f.cfg.Capture.MaxWindowsKeep = 2
	ids := []string{"window-20250505114500", "window-20250505115000", "window-20250505115500"}
	for _, id := range ids {
		f.writeFeatureFile(t, id, threeRows)
	}
	ctx := context.Background()

	report := f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Equal(t, ids, report.WindowsStored)
	assert.Equal(t, []string{ids[0]}, report.Pruned)

	// The pruned window's feature file is older than everything retained.
	report = f.sched.Tick(ctx, f.cfg)
	require.NoError(t, report.Err)
	assert.Empty(t, report.WindowsStored)

	kept, err := f.store.List(ctx, model.WindowFilter{Ascending: true})
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, ids[1], kept[0].ID)
	assert.Equal(t, ids[2], kept[1].ID)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.PcapDir = t.TempDir()
	cfg.Capture.CSVDir = t.TempDir()
	cfg.Capture.TickInterval = "1h"

	st, err := store.Open(context.Background(), config.StorageConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	defer st.Close()

	ticks := make(chan TickReport, 4)
	wake := make(chan struct{}, 1)
	sched, err := New(Deps{
		Source:    config.Static(cfg),
		Store:     st,
		Extractor: extractor.New(&toolRunner{}, nil),
		Wake:      wake,
		OnTick:    func(r TickReport) { ticks <- r },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	waitTick := func() {
		select {
		case <-ticks:
		case <-time.After(5 * time.Second):
			t.Fatal("tick did not happen")
		}
	}
	waitTick() // immediate first tick
	assert.True(t, sched.Running())
	assert.Error(t, sched.Run(ctx), "a second loop is refused")

	wake <- struct{}{}
	waitTick()
	sched.Trigger()
	waitTick()

	assert.Equal(t, metrics.StatusHealthy, sched.Health().Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, sched.Running())
}
