// Package archive copies persisted windows to secondary sinks before the
// store prunes them.
package archive

import (
	"context"
	"fmt"
	"io"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Factory builds a sink from its definition.
type Factory func(def config.ArchiveSinkDef, logger *zap.Logger) (model.Writer, error)

// registry holds the mapping of sink types to their factory functions.
var registry = make(map[string]Factory)

// Register registers a new sink type with its factory function.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("archive sink type '%s' already registered", name))
	}
	registry[name] = factory
}

func init() {
	Register("json", NewJSONWriter)
	Register("clickhouse", NewClickHouseWriter)
}

// Build creates every enabled sink listed in cfg. Sinks created before a
// failure are closed again.
func Build(cfg config.ArchiveConfig, logger *zap.Logger) ([]model.Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var writers []model.Writer
	for _, def := range cfg.Sinks {
		if !def.Enabled {
			continue
		}
		factory, ok := registry[def.Type]
		if !ok {
			closeAll(writers)
			return nil, errors.Newf("unknown archive sink type: '%s'", def.Type)
		}
		w, err := factory(def, logger)
		if err != nil {
			closeAll(writers)
			return nil, errors.Wrapf(err, "error creating archive sink '%s'", def.Type)
		}
		logger.Info("Archive sink ready", zap.String("sink", w.Name()))
		writers = append(writers, w)
	}
	return writers, nil
}

func closeAll(writers []model.Writer) error {
	var result *multierror.Error
	for _, w := range writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "close %s", w.Name()))
			}
		}
	}
	return result.ErrorOrNil()
}

// Archiver fans a window out to every sink.
type Archiver struct {
	writers []model.Writer
	logger  *zap.Logger
}

// New returns an archiver over writers. An archiver without writers is a no-op.
func New(writers []model.Writer, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{writers: writers, logger: logger}
}

// Len reports how many sinks are configured.
func (a *Archiver) Len() int {
	if a == nil {
		return 0
	}
	return len(a.writers)
}

// Archive writes w to every sink. A failing sink does not stop the others.
func (a *Archiver) Archive(ctx context.Context, w *model.Window) error {
	if a == nil {
		return nil
	}
	var result *multierror.Error
	for _, sink := range a.writers {
		if err := sink.Write(ctx, w); err != nil {
			a.logger.Error("Archive write failed",
				zap.String("sink", sink.Name()), zap.String("window_id", w.ID), zap.Error(err))
			result = multierror.Append(result, errors.Wrapf(err, "archive %s to %s", w.ID, sink.Name()))
		}
	}
	return result.ErrorOrNil()
}

// Close releases sinks holding connections.
func (a *Archiver) Close() error {
	if a == nil {
		return nil
	}
	return closeAll(a.writers)
}
