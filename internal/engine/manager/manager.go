// Package manager assembles the store, classifier, narrative builder,
// alerting, archive and event sinks into a running pipeline scheduler.
package manager

import (
	"context"
	"os"
	"sync"

	"Go2NetMon/internal/ai"
	"Go2NetMon/internal/alerter"
	"Go2NetMon/internal/archive"
	"Go2NetMon/internal/capture"
	"Go2NetMon/internal/classifier"
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/events"
	"Go2NetMon/internal/extractor"
	"Go2NetMon/internal/metrics"
	"Go2NetMon/internal/narrative"
	"Go2NetMon/internal/notification"
	"Go2NetMon/internal/pipeline"
	"Go2NetMon/internal/store"
	"Go2NetMon/internal/watch"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Manager owns every long-lived component of the engine.
type Manager struct {
	Store      *store.Store
	Scheduler  *pipeline.Scheduler
	Metrics    *metrics.Recorder
	Collectors *metrics.Collectors

	source    *config.Source
	archiver  *archive.Archiver
	publisher *events.Publisher
	watcher   *watch.Watcher
	wake      chan struct{}
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds the engine from the source's current configuration.
// Optional collaborators that cannot be reached (model, text generation,
// NATS) degrade with a warning; the store and archive sinks are required.
func NewManager(ctx context.Context, src *config.Source, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := src.Snapshot()

	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		Store:      st,
		Collectors: metrics.NewCollectors(),
		source:     src,
		wake:       make(chan struct{}, 1),
		logger:     logger,
	}
	m.Metrics = metrics.NewRecorder(m.Collectors)

	writers, err := archive.Build(cfg.Archive, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	m.archiver = archive.New(writers, logger)

	adapter := classifier.Load(cfg.ML, logger)
	adapter.OnError(func(error) { m.Metrics.ClassificationFailed() })

	gen, err := ai.NewGenerator(cfg.LLM)
	if err != nil {
		logger.Warn("Narrative enrichment disabled", zap.Error(err))
		gen = nil
	}
	narrator := narrative.NewBuilder(gen, narrative.Options{
		Timeout:         cfg.LLM.RequestTimeout(),
		BreakerFailures: cfg.LLM.BreakerFailures,
		BreakerCooldown: cfg.LLM.Cooldown(),
	}, logger)

	notifiers := notification.FromConfig(cfg.Notifications)
	if len(notifiers) == 0 {
		logger.Info("No notifiers are configured; alerts are stored only.")
	}

	deps := pipeline.Deps{
		Source:     src,
		Store:      st,
		Extractor:  extractor.New(extractor.ExecRunner{}, logger),
		Classifier: adapter,
		Narrator:   narrator,
		Dispatcher: alerter.NewDispatcher(logger, notifiers...),
		Archiver:   m.archiver,
		Metrics:    m.Metrics,
		Logger:     logger,
		Wake:       m.wake,
	}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events, logger)
		if err != nil {
			logger.Warn("Event publishing disabled", zap.Error(err))
		} else {
			m.publisher = pub
			deps.Publisher = pub
		}
	}

	m.Scheduler, err = pipeline.New(deps)
	if err != nil {
		m.close()
		return nil, err
	}
	logger.Info("Manager initialized",
		zap.Bool("ml_enabled", adapter.Enabled()),
		zap.Bool("llm_enabled", narrator.Enabled()),
		zap.Int("archive_sinks", m.archiver.Len()),
		zap.Bool("events_enabled", m.publisher != nil))
	return m, nil
}

// Start runs the scheduler, and the directory watcher when configured, in
// the background.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	cfg := m.source.Snapshot()

	if cfg.Capture.Watch {
		for _, dir := range []string{cfg.Capture.PcapDir, cfg.Capture.CSVDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrapf(err, "failed to create %s", dir)
			}
		}
		w, err := watch.New([]string{cfg.Capture.PcapDir}, []string{capture.SegmentExt}, watch.DefaultDebounce, m.logger)
		if err != nil {
			return err
		}
		m.watcher = w
		m.wg.Add(2)
		go func() {
			defer m.wg.Done()
			w.Run(ctx)
		}()
		go func() {
			defer m.wg.Done()
			m.forwardWakeups(ctx)
		}()
		m.logger.Info("Watching capture directory", zap.String("dir", cfg.Capture.PcapDir))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.Scheduler.Run(ctx); err != nil {
			m.logger.Error("Scheduler exited", zap.Error(err))
		}
	}()
	return nil
}

func (m *Manager) forwardWakeups(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.watcher.C():
			select {
			case m.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Stop waits for the current tick to finish and releases every resource.
func (m *Manager) Stop() {
	m.logger.Info("Manager stopping...")
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.close()
	m.logger.Info("Manager stopped.")
}

func (m *Manager) close() {
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			m.logger.Warn("Failed to close watcher", zap.Error(err))
		}
	}
	if err := m.archiver.Close(); err != nil {
		m.logger.Warn("Failed to close archive sinks", zap.Error(err))
	}
	if m.publisher != nil {
		m.publisher.Close()
	}
	if err := m.Store.Close(); err != nil {
		m.logger.Warn("Failed to close store", zap.Error(err))
	}
}
