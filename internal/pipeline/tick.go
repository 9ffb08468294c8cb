package pipeline

import (
	"context"
	"os"
	"sync"
	"time"

	"Go2NetMon/internal/aggregator"
	"Go2NetMon/internal/alerter"
	"Go2NetMon/internal/capture"
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/features"
	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// TickReport summarises one tick.
type TickReport struct {
	ID                 string        `json:"id"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	Extracted          int           `json:"extracted"`
	ExtractionFailures int           `json:"extraction_failures"`
	WindowsStored      []string      `json:"windows_stored"`
	EmptySkipped       int           `json:"empty_skipped"`
	AlertsCreated      int           `json:"alerts_created"`
	Pruned             []string      `json:"pruned"`
	Err                error         `json:"-"`
}

// Tick runs the extraction stage, the window stage and retention pruning
// once against cfg. Failures are logged, counted and collected in the
// report; they never abort the remaining work.
func (s *Scheduler) Tick(ctx context.Context, cfg *config.Config) TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := TickReport{ID: uuid.NewString(), StartedAt: s.now()}
	log := s.logger.With(zap.String("tick_id", report.ID))
	log.Debug("Tick started")

	var result *multierror.Error
	if err := s.extractSegments(ctx, cfg, &report, log); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.processFeatureFiles(ctx, cfg, &report, log); err != nil {
		result = multierror.Append(result, err)
	}

	pruned, err := s.store.Prune(ctx, cfg.Capture.MaxWindowsKeep)
	if err != nil {
		s.metrics.StoreFailed()
		result = multierror.Append(result, err)
	}
	report.Pruned = pruned

	report.Err = result.ErrorOrNil()
	report.Duration = s.now().Sub(report.StartedAt)
	s.metrics.TickFinished(report.Duration)
	log.Info("Tick finished",
		zap.Int("extracted", report.Extracted),
		zap.Int("extraction_failures", report.ExtractionFailures),
		zap.Int("windows", len(report.WindowsStored)),
		zap.Int("alerts", report.AlertsCreated),
		zap.Int("pruned", len(report.Pruned)),
		zap.Duration("duration", report.Duration))
	if s.onTick != nil {
		s.onTick(report)
	}
	return report
}

// extractSegments converts every ready segment. A segment whose retries are
// exhausted stays unconverted and is picked up again by the next tick.
func (s *Scheduler) extractSegments(ctx context.Context, cfg *config.Config, report *TickReport, log *zap.Logger) error {
	if err := os.MkdirAll(cfg.Capture.CSVDir, 0o755); err != nil {
		s.metrics.Failed("filesystem")
		return errors.Wrap(err, "failed to create feature directory")
	}
	segments, err := capture.DiscoverSegments(cfg.Capture.PcapDir, cfg.Capture.CSVDir, cfg.Capture.MinAge(), s.now())
	if err != nil {
		s.metrics.Failed("discovery")
		return err
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
		sem    = make(chan struct{}, max(cfg.Extractor.ParallelWorkers, 1))
	)
	for _, seg := range segments {
		if ctx.Err() != nil {
			break
		}
		info, err := capture.InspectSegment(seg.Path)
		if err != nil {
			log.Warn("Skipping unreadable segment", zap.String("segment", seg.Path), zap.Error(err))
			continue
		}
		if info.Truncated {
			log.Warn("Segment ends with a truncated packet", zap.String("segment", seg.Path), zap.Int("packets", info.Packets))
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(seg capture.Segment) {
			defer wg.Done()
			defer func() { <-sem }()

			started := time.Now()
			attempts, err := s.extractor.Extract(ctx, cfg.Extractor, seg.Path, capture.FeaturePath(cfg.Capture.CSVDir, seg.ID))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.ExtractionFailures++
				s.metrics.ExtractionFailed()
				log.Error("Feature extraction failed", zap.String("window_id", seg.ID), zap.Int("attempts", attempts), zap.Error(err))
				result = multierror.Append(result, err)
				return
			}
			report.Extracted++
			s.metrics.Extracted(time.Since(started))
		}(seg)
	}
	wg.Wait()
	return result.ErrorOrNil()
}

// prepared is a window built outside the store lock.
type prepared struct {
	id      string
	window  *model.Window
	started time.Time
	empty   bool
	err     error
}

// retentionHorizon returns the start time of the oldest window that survives
// pruning once the store is full. Older feature files would be pruned right
// after being stored, so they are not processed again.
func (s *Scheduler) retentionHorizon(ctx context.Context, keepN int) (time.Time, error) {
	if keepN <= 0 {
		return time.Time{}, nil
	}
	kept, err := s.store.List(ctx, model.WindowFilter{Limit: keepN})
	if err != nil {
		return time.Time{}, err
	}
	if len(kept) < keepN {
		return time.Time{}, nil
	}
	return kept[len(kept)-1].StartTime, nil
}

// processFeatureFiles builds windows for every feature file without a stored
// window. Building runs in parallel; store writes and alerting run in id order
// on the calling goroutine.
func (s *Scheduler) processFeatureFiles(ctx context.Context, cfg *config.Config, report *TickReport, log *zap.Logger) error {
	files, err := capture.DiscoverFeatureFiles(cfg.Capture.CSVDir)
	if err != nil {
		s.metrics.Failed("discovery")
		return err
	}
	horizon, err := s.retentionHorizon(ctx, cfg.Capture.MaxWindowsKeep)
	if err != nil {
		s.metrics.StoreFailed()
		return err
	}

	seen := make(map[string]struct{}, len(files))
	var pending []capture.FeatureFile
	for _, f := range files {
		seen[f.ID] = struct{}{}
		if f.Start.Before(horizon) {
			continue
		}
		if mtime, ok := s.emptyFiles[f.ID]; ok && mtime.Equal(f.ModTime) {
			continue
		}
		exists, err := s.store.Exists(ctx, f.ID)
		if err != nil {
			s.metrics.StoreFailed()
			return err
		}
		if !exists {
			pending = append(pending, f)
		}
	}
	for id := range s.emptyFiles {
		if _, ok := seen[id]; !ok {
			delete(s.emptyFiles, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	results := make([]prepared, len(pending))
	var wg sync.WaitGroup
	sem := make(chan struct{}, max(cfg.Capture.NumWorkers, 1))
	for i, f := range pending {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, f capture.FeatureFile) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.prepare(ctx, cfg, f)
		}(i, f)
	}
	wg.Wait()

	var result *multierror.Error
	for i, p := range results {
		switch {
		case p.err != nil:
			log.Warn("Feature file not usable this tick", zap.String("window_id", p.id), zap.Error(p.err))
		case p.empty:
			s.emptyFiles[p.id] = pending[i].ModTime
			s.metrics.EmptyFileSkipped()
			report.EmptySkipped++
		default:
			n, err := s.commit(ctx, cfg, p, false, log)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			report.WindowsStored = append(report.WindowsStored, p.id)
			report.AlertsCreated += n
		}
	}
	return result.ErrorOrNil()
}

// prepare reads, classifies, aggregates and narrates one feature file.
func (s *Scheduler) prepare(ctx context.Context, cfg *config.Config, f capture.FeatureFile) prepared {
	p := prepared{id: f.ID, started: time.Now()}

	start, end, err := model.WindowBounds(f.ID, cfg.Capture.WindowLength())
	if err != nil {
		p.err = err
		return p
	}
	file, err := features.Open(f.Path)
	if err != nil {
		p.err = err
		return p
	}
	if file.Len() == 0 {
		s.logger.Info("No flows in feature file, skipping", zap.String("window_id", f.ID))
		p.empty = true
		return p
	}

	res := aggregator.Aggregate(file.Rows(), s.classifier)
	s.metrics.FeatureFileRead(time.Since(p.started), res.TotalFlows, s.classifier != nil && s.classifier.Enabled())
	if res.TotalFlows == 0 {
		p.empty = true
		return p
	}

	w := res.Window(f.ID, start, end)
	nr := s.narrator.Build(ctx, w)
	w.Narrative = nr.Text
	switch {
	case nr.Enriched:
		s.metrics.Narrative(true)
	case nr.Err != nil:
		s.metrics.Narrative(false)
	}
	p.window = w
	return p
}

// commit persists a prepared window and then handles everything downstream
// of it. Only the store write can fail the window; alerting, archiving and
// events are best effort. It returns the number of alerts created.
func (s *Scheduler) commit(ctx context.Context, cfg *config.Config, p prepared, reprocessed bool, log *zap.Logger) (int, error) {
	w := p.window
	log = log.With(zap.String("window_id", w.ID))

	if err := s.store.Upsert(ctx, w); err != nil {
		s.metrics.StoreFailed()
		log.Error("Failed to persist window", zap.Error(err))
		return 0, err
	}
	s.metrics.WindowStored(time.Since(p.started))
	log.Info("Window stored",
		zap.Int64("flows", w.TotalFlows),
		zap.Int64("attack_flows", w.AttackFlows),
		zap.Int64("unknown_flows", w.UnknownFlows),
		zap.Bool("reprocessed", reprocessed))

	if err := s.archiver.Archive(ctx, w); err != nil {
		s.metrics.Failed("archive")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishWindow(w, reprocessed); err != nil {
			s.metrics.Failed("events")
			log.Warn("Failed to publish window event", zap.Error(err))
		}
	}

	return s.raiseAlerts(ctx, cfg, w, log), nil
}

// raiseAlerts evaluates, stores and announces the alerts for a stored window.
func (s *Scheduler) raiseAlerts(ctx context.Context, cfg *config.Config, w *model.Window, log *zap.Logger) (created int) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.Failed("alerts")
			log.Error("Alert evaluation panicked", zap.Any("panic", r))
			created = 0
		}
	}()

	alerts := alerter.Evaluate(w, cfg.Alerts)
	if len(alerts) == 0 {
		return 0
	}
	if err := s.store.CreateAlerts(ctx, alerts); err != nil {
		s.metrics.StoreFailed()
		log.Error("Failed to store alerts", zap.Error(err))
		return 0
	}
	s.metrics.AlertsCreated(len(alerts))
	log.Info("Created alerts", zap.Int("count", len(alerts)))

	if s.dispatcher != nil {
		if _, err := s.dispatcher.Dispatch(cfg.Notifications, w, alerts); err != nil {
			s.metrics.Failed("notification")
		}
	}
	if s.publisher != nil {
		for _, a := range alerts {
			if err := s.publisher.PublishAlert(a); err != nil {
				s.metrics.Failed("events")
				log.Warn("Failed to publish alert event", zap.Uint64("alert_id", a.ID), zap.Error(err))
			}
		}
	}
	return len(alerts)
}

// Reprocess rebuilds the window for id from its feature file and updates the
// stored window in place. Alerts are evaluated again for the new figures.
func (s *Scheduler) Reprocess(ctx context.Context, cfg *config.Config, id string) (*model.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, err := model.ParseWindowID(id)
	if err != nil {
		return nil, err
	}
	path := capture.FeaturePath(cfg.Capture.CSVDir, id)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(ErrNotReady, "no feature file for %s", id)
	}

	p := s.prepare(ctx, cfg, capture.FeatureFile{ID: id, Path: path, Start: start})
	switch {
	case p.err != nil:
		return nil, errors.Mark(errors.Wrapf(p.err, "window %s", id), ErrNotReady)
	case p.empty:
		return nil, errors.Wrapf(ErrNotReady, "feature file for %s has no flows", id)
	}

	if _, err := s.commit(ctx, cfg, p, true, s.logger); err != nil {
		return nil, err
	}
	return p.window, nil
}
