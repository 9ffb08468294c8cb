// Package classifier adapts a pre-trained flow classification model to the
// Verdict contract used by window aggregation.
package classifier

import (
	"math"
	"sync/atomic"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/features"
	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// DefaultThreshold is the minimum top-class probability for a confident verdict.
const DefaultThreshold = 0.90

// Model returns class probabilities for one canonical feature vector.
// classes and probs are index-aligned.
type Model interface {
	PredictProba(vector []float64) (classes []string, probs []float64, err error)
}

// Adapter turns model output into Verdicts. A nil model puts the adapter in
// degraded mode where it reports itself disabled.
type Adapter struct {
	model     Model
	threshold float64
	logger    *zap.Logger

	errors  atomic.Int64
	onError func(error)
}

// NewAdapter wraps m. A threshold outside (0,1] falls back to DefaultThreshold.
func NewAdapter(m Model, threshold float64, logger *zap.Logger) *Adapter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{model: m, threshold: threshold, logger: logger}
}

// Disabled returns an adapter that classifies nothing.
func Disabled() *Adapter {
	return NewAdapter(nil, DefaultThreshold, nil)
}

// Load builds an adapter from configuration. Load failures are logged and
// yield a disabled adapter; they are never fatal.
func Load(cfg config.MLConfig, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("Flow classification disabled, all flows will be counted benign")
		return NewAdapter(nil, cfg.Threshold, logger)
	}

	var (
		m   Model
		err error
	)
	switch cfg.Backend {
	case "http":
		m, err = NewHTTPModel(cfg.ModelURL, cfg.RequestTimeout())
	default:
		m, err = LoadSoftmax(cfg.ModelPath)
	}
	if err != nil {
		logger.Warn("Failed to load classification model, running degraded",
			zap.String("backend", cfg.Backend), zap.Error(err))
		return NewAdapter(nil, cfg.Threshold, logger)
	}
	logger.Info("Classification model loaded",
		zap.String("backend", cfg.Backend), zap.Float64("threshold", cfg.Threshold))
	return NewAdapter(m, cfg.Threshold, logger)
}

// OnError registers a callback invoked for every per-row classification error.
func (a *Adapter) OnError(fn func(error)) {
	a.onError = fn
}

// Enabled reports whether a model is loaded.
func (a *Adapter) Enabled() bool {
	return a != nil && a.model != nil
}

// Threshold returns the confidence threshold in use.
func (a *Adapter) Threshold() float64 { return a.threshold }

// Errors returns the number of rows that failed classification.
func (a *Adapter) Errors() int64 { return a.errors.Load() }

// Classify returns the verdict for row. In degraded mode every row is
// benign. Any model error degrades the row to Unknown.
func (a *Adapter) Classify(row features.Row) model.Verdict {
	if !a.Enabled() {
		return model.Benign()
	}
	classes, probs, err := a.model.PredictProba(row.Vector())
	if err == nil {
		err = checkOutput(classes, probs)
	}
	if err != nil {
		a.errors.Add(1)
		if a.onError != nil {
			a.onError(err)
		}
		a.logger.Debug("Row classification failed", zap.Error(err))
		return model.Unknown()
	}

	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	if probs[best] < a.threshold {
		return model.Unknown()
	}
	return model.VerdictFromLabel(classes[best])
}

func checkOutput(classes []string, probs []float64) error {
	if len(probs) == 0 {
		return errors.New("model returned no probabilities")
	}
	if len(classes) != len(probs) {
		return errors.Newf("model returned %d classes for %d probabilities", len(classes), len(probs))
	}
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return errors.Newf("model returned non-finite probability %v for class %q", p, classes[i])
		}
	}
	return nil
}
