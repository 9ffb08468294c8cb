package config

import (
	"sync"

	"go.uber.org/zap"
)

// Source hands out configuration snapshots. The file is re-read on every call
// to Snapshot so that operators can tune thresholds between ticks; a file that
// fails to load or validate leaves the last good snapshot in place.
type Source struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	last *Config
}

// NewSource loads the file once and fails if the initial configuration is invalid.
func NewSource(path string, logger *zap.Logger) (*Source, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{path: path, logger: logger, last: cfg}, nil
}

// Static returns a Source that always yields cfg.
func Static(cfg *Config) *Source {
	return &Source{last: cfg, logger: zap.NewNop()}
}

// Snapshot returns an immutable copy of the current configuration.
func (s *Source) Snapshot() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		cfg, err := LoadConfig(s.path)
		if err != nil {
			s.logger.Warn("Config reload failed, keeping previous snapshot", zap.String("path", s.path), zap.Error(err))
		} else {
			s.last = cfg
		}
	}
	return s.last.clone()
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Archive.Sinks = append([]ArchiveSinkDef(nil), c.Archive.Sinks...)
	return &cp
}
