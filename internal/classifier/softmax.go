package classifier

import (
	"encoding/json"
	"math"
	"os"
	"slices"

	"Go2NetMon/internal/features"

	"github.com/cockroachdb/errors"
)

// Softmax is a multinomial logistic model exported as JSON. Inputs are
// standardised with Mean and Scale when present.
type Softmax struct {
	Classes   []string    `json:"classes"`
	Features  []string    `json:"features,omitempty"`
	Mean      []float64   `json:"mean,omitempty"`
	Scale     []float64   `json:"scale,omitempty"`
	Weights   [][]float64 `json:"weights"`
	Intercept []float64   `json:"intercept"`
}

// LoadSoftmax reads and validates a model artifact.
func LoadSoftmax(path string) (*Softmax, error) {
	if path == "" {
		return nil, errors.New("model path is not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model artifact %s", path)
	}
	var m Softmax
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "failed to decode model artifact %s", path)
	}
	if err := m.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid model artifact %s", path)
	}
	return &m, nil
}

func (m *Softmax) validate() error {
	n := len(features.Canonical)
	if len(m.Classes) == 0 {
		return errors.New("no classes")
	}
	if len(m.Features) > 0 && !slices.Equal(m.Features, features.Canonical) {
		return errors.New("feature order does not match the canonical vector")
	}
	if len(m.Weights) != len(m.Classes) || len(m.Intercept) != len(m.Classes) {
		return errors.Newf("expected %d weight rows and intercepts", len(m.Classes))
	}
	for i, w := range m.Weights {
		if len(w) != n {
			return errors.Newf("weight row %d has %d columns, want %d", i, len(w), n)
		}
	}
	if len(m.Mean) > 0 && len(m.Mean) != n {
		return errors.Newf("mean has %d entries, want %d", len(m.Mean), n)
	}
	if len(m.Scale) > 0 && len(m.Scale) != n {
		return errors.Newf("scale has %d entries, want %d", len(m.Scale), n)
	}
	return nil
}

// PredictProba implements Model.
func (m *Softmax) PredictProba(vector []float64) ([]string, []float64, error) {
	if len(vector) != len(features.Canonical) {
		return nil, nil, errors.Newf("feature vector has %d values, want %d", len(vector), len(features.Canonical))
	}
	x := make([]float64, len(vector))
	for i, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, errors.Newf("feature %s is not finite", features.Canonical[i])
		}
		if len(m.Mean) > 0 {
			v -= m.Mean[i]
		}
		if len(m.Scale) > 0 && m.Scale[i] != 0 {
			v /= m.Scale[i]
		}
		x[i] = v
	}

	logits := make([]float64, len(m.Classes))
	peak := math.Inf(-1)
	for c, w := range m.Weights {
		z := m.Intercept[c]
		for i, xi := range x {
			z += w[i] * xi
		}
		logits[c] = z
		peak = max(peak, z)
	}
	var sum float64
	probs := make([]float64, len(logits))
	for c, z := range logits {
		probs[c] = math.Exp(z - peak)
		sum += probs[c]
	}
	for c := range probs {
		probs[c] /= sum
	}
	return m.Classes, probs, nil
}
