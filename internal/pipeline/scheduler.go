// Package pipeline runs the periodic loop that turns capture segments into
// persisted, classified and alerted windows.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetMon/internal/aggregator"
	"Go2NetMon/internal/archive"
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/metrics"
	"Go2NetMon/internal/model"
	"Go2NetMon/internal/narrative"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrNotReady is returned by Reprocess when no usable feature file exists for the id.
var ErrNotReady = errors.New("window is not ready for processing")

// Store is the subset of the window store the scheduler writes to.
type Store interface {
	Upsert(ctx context.Context, w *model.Window) error
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, f model.WindowFilter) ([]*model.Window, error)
	Prune(ctx context.Context, keepN int) ([]string, error)
	CreateAlerts(ctx context.Context, alerts []*model.Alert) error
}

// Extractor converts a capture segment into a feature file.
type Extractor interface {
	Extract(ctx context.Context, cfg config.ExtractorConfig, segment, output string) (int, error)
}

// Narrator renders window narratives.
type Narrator interface {
	Build(ctx context.Context, w *model.Window) narrative.Result
}

// Dispatcher notifies operators about new alerts.
type Dispatcher interface {
	Dispatch(cfg config.NotificationsConfig, w *model.Window, alerts []*model.Alert) (int, error)
}

// Publisher announces persisted windows and alerts.
type Publisher interface {
	PublishWindow(w *model.Window, reprocessed bool) error
	PublishAlert(a *model.Alert) error
}

// Deps wires the scheduler's collaborators. Store, Extractor and Source are
// required; every other field may be nil.
type Deps struct {
	Source     *config.Source
	Store      Store
	Extractor  Extractor
	Classifier aggregator.Classifier
	Narrator   Narrator
	Dispatcher Dispatcher
	Archiver   *archive.Archiver
	Publisher  Publisher
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
	// Wake delivers out-of-band tick requests, typically from a filesystem watcher.
	Wake <-chan struct{}
	// OnTick is called after every completed tick.
	OnTick func(TickReport)
}

// Scheduler runs ticks one at a time.
type Scheduler struct {
	source     *config.Source
	store      Store
	extractor  Extractor
	classifier aggregator.Classifier
	narrator   Narrator
	dispatcher Dispatcher
	archiver   *archive.Archiver
	publisher  Publisher
	metrics    *metrics.Recorder
	logger     *zap.Logger
	wake       <-chan struct{}
	trigger    chan struct{}
	onTick     func(TickReport)
	now        func() time.Time

	// mu keeps ticks and explicit re-processing from overlapping.
	mu sync.Mutex
	// emptyFiles remembers zero-row feature files by modification time so
	// each is skipped and counted once. Guarded by mu.
	emptyFiles map[string]time.Time
	running    atomic.Bool
	interval   atomic.Int64
}

// New validates deps and returns a scheduler.
func New(deps Deps) (*Scheduler, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline: config source is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRecorder(nil)
	}
	if deps.Narrator == nil {
		deps.Narrator = narrative.NewBuilder(nil, narrative.Options{}, deps.Logger)
	}
	s := &Scheduler{
		source:     deps.Source,
		store:      deps.Store,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		narrator:   deps.Narrator,
		dispatcher: deps.Dispatcher,
		archiver:   deps.Archiver,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		wake:       deps.Wake,
		trigger:    make(chan struct{}, 1),
		onTick:     deps.OnTick,
		now:        func() time.Time { return time.Now().UTC() },
		emptyFiles: make(map[string]time.Time),
	}
	s.interval.Store(int64(time.Minute))
	return s, nil
}

// Metrics returns the recorder the scheduler reports to.
func (s *Scheduler) Metrics() *metrics.Recorder { return s.metrics }

// Running reports whether Run is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Health evaluates the scheduler against its current tick interval.
func (s *Scheduler) Health() metrics.HealthReport {
	return s.metrics.Health(time.Duration(s.interval.Load()), s.Running(), s.now())
}

// Trigger requests a tick as soon as the current one, if any, finishes.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func tickInterval(cfg *config.Config) time.Duration {
	if d := cfg.Capture.Interval(); d > 0 {
		return d
	}
	return time.Minute
}

// Run ticks immediately and then once per configured interval, or earlier
// when woken, until ctx is cancelled. The configuration is reloaded at every
// tick boundary.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("pipeline: scheduler already running")
	}
	defer s.running.Store(false)
	s.logger.Info("Scheduler started")

	for {
		cfg := s.source.Snapshot()
		interval := tickInterval(cfg)
		s.interval.Store(int64(interval))
		s.safeTick(ctx, cfg)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopped")
			return nil
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.trigger:
			timer.Stop()
		}
	}
}

// safeTick runs one tick and turns a panic into a counted error.
func (s *Scheduler) safeTick(ctx context.Context, cfg *config.Config) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.Failed("panic")
			s.logger.Error("Tick panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	report := s.Tick(ctx, cfg)
	if report.Err != nil {
		s.logger.Warn("Tick finished with errors", zap.String("tick_id", report.ID), zap.Error(report.Err))
	}
}
