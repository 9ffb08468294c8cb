// Package watch turns filesystem activity in the capture directories into
// debounced wake-ups for the scheduler.
package watch

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last event before waking.
const DefaultDebounce = 2 * time.Second

// Watcher signals on C once activity on matching files has settled.
type Watcher struct {
	fsw      *fsnotify.Watcher
	exts     []string
	debounce time.Duration
	wake     chan struct{}
	logger   *zap.Logger
}

// New watches dirs for files ending in one of exts. Every directory must exist.
func New(dirs, exts []string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filesystem watcher")
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, errors.Wrapf(err, "failed to watch %s", dir)
		}
	}
	return &Watcher{
		fsw:      fsw,
		exts:     exts,
		debounce: debounce,
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}, nil
}

// C delivers at most one pending wake-up at a time.
func (w *Watcher) C() <-chan struct{} { return w.wake }

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return slices.Contains(w.exts, filepath.Ext(ev.Name))
}

func (w *Watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run forwards events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Filesystem watcher error", zap.Error(err))
		case <-timer.C:
			w.logger.Debug("Capture directory activity settled, waking scheduler")
			w.signal()
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
