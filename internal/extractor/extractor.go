// Package extractor drives the external flow-feature extraction tool that
// converts a capture segment into a feature file.
package extractor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Go2NetMon/internal/config"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrExtractionFailed is returned after every attempt for a segment failed.
var ErrExtractionFailed = errors.New("feature extraction failed")

// PartialSuffix marks output still being written by the tool.
const PartialSuffix = ".partial"

// toolConfig is the JSON document handed to the extraction tool.
type toolConfig struct {
	PcapFileAddress   string `json:"pcap_file_address"`
	OutputFileAddress string `json:"output_file_address"`
	Label             string `json:"label"`
	NumberOfThreads   int    `json:"number_of_threads"`
	MinFlows          int    `json:"feature_extractor_min_flows"`
	WriterMinRows     int    `json:"writer_min_rows"`
	MaxRowsNumber     int    `json:"max_rows_number"`
}

// Extractor runs the tool with bounded retries.
type Extractor struct {
	runner Runner
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New returns an extractor that starts the tool through runner.
func New(runner Runner, logger *zap.Logger) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{runner: runner, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the wait before retry number n (1-based).
func backoff(cfg config.ExtractorConfig, n int) time.Duration {
	d := cfg.Delay()
	if cfg.Backoff == "exponential" {
		for i := 1; i < n; i++ {
			d *= 2
		}
	}
	return d
}

// Extract converts segment into output. The tool is invoked once and then
// retried up to cfg.MaxRetries times. The feature file only appears at
// output once an attempt has succeeded. It returns the number of attempts.
func (e *Extractor) Extract(ctx context.Context, cfg config.ExtractorConfig, segment, output string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return 0, errors.Wrapf(err, "failed to create output directory for %s", output)
	}
	partial := output + PartialSuffix
	cfgPath := strings.TrimSuffix(output, filepath.Ext(output)) + ".json"

	if err := writeToolConfig(cfgPath, cfg, segment, partial); err != nil {
		return 0, err
	}
	defer os.Remove(cfgPath)

	log := e.logger.With(zap.String("segment", segment))
	attempts := 1 + max(cfg.MaxRetries, 0)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := backoff(cfg, attempt-1)
			log.Info("Retrying feature extraction", zap.Int("attempt", attempt), zap.Duration("wait", wait))
			if err := e.sleep(ctx, wait); err != nil {
				return attempt - 1, errors.Wrap(err, "extraction interrupted")
			}
		}

		lastErr = e.attempt(ctx, cfg, cfgPath, partial, output)
		if lastErr == nil {
			log.Info("Feature extraction finished", zap.Int("attempt", attempt), zap.String("output", output))
			return attempt, nil
		}
		_ = os.Remove(partial)
		log.Warn("Feature extraction attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		if ctx.Err() != nil {
			return attempt, errors.Wrap(ctx.Err(), "extraction interrupted")
		}
	}
	return attempts, errors.Mark(errors.Wrapf(lastErr, "%s after %d attempts", segment, attempts), ErrExtractionFailed)
}

func (e *Extractor) attempt(ctx context.Context, cfg config.ExtractorConfig, cfgPath, partial, output string) error {
	runCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout())
	defer cancel()

	stdout, stderr, err := e.runner.Run(runCtx, cfg.BinaryPath, "-c", cfgPath)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = errors.Wrapf(err, "timed out after %s", cfg.AttemptTimeout())
		}
		e.logger.Debug("Extraction tool output",
			zap.ByteString("stdout", tail(stdout)), zap.ByteString("stderr", tail(stderr)))
		return err
	}

	if _, statErr := os.Stat(partial); errors.Is(statErr, os.ErrNotExist) {
		// The tool writes nothing when a segment holds fewer flows than
		// min_flows; an empty feature file records that there is nothing to do.
		if err := os.WriteFile(partial, nil, 0o644); err != nil {
			return errors.Wrap(err, "failed to create empty feature file")
		}
	}
	if err := os.Rename(partial, output); err != nil {
		return errors.Wrap(err, "failed to publish feature file")
	}
	return nil
}

func writeToolConfig(path string, cfg config.ExtractorConfig, segment, output string) error {
	data, err := json.MarshalIndent(toolConfig{
		PcapFileAddress:   segment,
		OutputFileAddress: output,
		Label:             "Unknown",
		NumberOfThreads:   cfg.Threads,
		MinFlows:          cfg.MinFlows,
		WriterMinRows:     cfg.MinRows,
		MaxRowsNumber:     cfg.MaxRows,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode extractor config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write extractor config %s", path)
	}
	return nil
}

func tail(b []byte) []byte {
	const limit = 4096
	if len(b) > limit {
		return b[len(b)-limit:]
	}
	return b
}
