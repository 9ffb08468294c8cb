package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"Go2NetMon/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Capture.PcapDir = filepath.Join(dir, "pcaps")
	cfg.Capture.CSVDir = filepath.Join(dir, "flows")
	cfg.Capture.TickInterval = "1h"
	cfg.ML.Enabled = false
	cfg.LLM.Enabled = false
	cfg.Storage.DSN = filepath.Join(dir, "db", "netmon.db")
	cfg.Archive.Sinks = []config.ArchiveSinkDef{{Type: "json", Enabled: true, RootPath: filepath.Join(dir, "archive")}}
	return cfg
}

func TestManager_StartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Watch = true

	ctx := context.Background()
	m, err := NewManager(ctx, config.Static(cfg), nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))

	require.Eventually(t, func() bool {
		return m.Metrics.Snapshot().Ticks >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, m.Scheduler.Running())
	assert.DirExists(t, cfg.Capture.PcapDir)

	m.Stop()
	assert.False(t, m.Scheduler.Running())
}

func TestNewManager_UnknownArchiveSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Sinks = []config.ArchiveSinkDef{{Type: "tape", Enabled: true}}

	_, err := NewManager(context.Background(), config.Static(cfg), nil)
	assert.ErrorContains(t, err, "unknown archive sink type")
}

func TestNewManager_DegradesOptionalCollaborators(t *testing.T) {
	cfg := testConfig(t)
	cfg.ML.Enabled = true
	cfg.ML.ModelPath = filepath.Join(t.TempDir(), "missing.json")
	cfg.LLM.Enabled = true
	cfg.LLM.Provider = "carrier-pigeon"

	m, err := NewManager(context.Background(), config.Static(cfg), nil)
	require.NoError(t, err)
	defer m.Stop()

	report := m.Scheduler.Tick(context.Background(), cfg)
	assert.NoError(t, report.Err)
}
