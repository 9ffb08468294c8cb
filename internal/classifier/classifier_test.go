package classifier

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/features"
	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedModel struct {
	classes []string
	probs   []float64
	err     error
	calls   int
}

func (m *fixedModel) PredictProba(vec []float64) ([]string, []float64, error) {
	m.calls++
	return m.classes, m.probs, m.err
}

func TestAdapter_Classify(t *testing.T) {
	row := features.Row{"duration": "1"}
	tests := []struct {
		name  string
		model *fixedModel
		want  model.Verdict
	}{
		{"confident benign", &fixedModel{classes: []string{"BENIGN", "DDoS"}, probs: []float64{0.95, 0.05}}, model.Benign()},
		{"normal alias", &fixedModel{classes: []string{"Normal", "DDoS"}, probs: []float64{0.99, 0.01}}, model.Benign()},
		{"confident attack", &fixedModel{classes: []string{"BENIGN", "DDoS"}, probs: []float64{0.02, 0.98}}, model.Attack("DDoS")},
		{"below threshold", &fixedModel{classes: []string{"BENIGN", "DDoS"}, probs: []float64{0.11, 0.89}}, model.Unknown()},
		{"exactly threshold", &fixedModel{classes: []string{"BENIGN", "PortScan"}, probs: []float64{0.10, 0.90}}, model.Attack("PortScan")},
		{"model error", &fixedModel{err: errors.New("boom")}, model.Unknown()},
		{"mismatched output", &fixedModel{classes: []string{"a"}, probs: []float64{0.5, 0.5}}, model.Unknown()},
		{"nan probability", &fixedModel{classes: []string{"BENIGN", "DDoS"}, probs: []float64{math.NaN(), 0.01}}, model.Unknown()},
		{"infinite probability", &fixedModel{classes: []string{"BENIGN", "DDoS"}, probs: []float64{0.01, math.Inf(1)}}, model.Unknown()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(tt.model, 0.90, nil)
			assert.Equal(t, tt.want, a.Classify(row))
			assert.Equal(t, 1, tt.model.calls)
		})
	}
}

func TestAdapter_ErrorsAreCounted(t *testing.T) {
	a := NewAdapter(&fixedModel{err: errors.New("boom")}, 0.9, nil)
	var seen int
	a.OnError(func(error) { seen++ })

	for range 3 {
		assert.Equal(t, model.Unknown(), a.Classify(features.Row{}))
	}
	assert.EqualValues(t, 3, a.Errors())
	assert.Equal(t, 3, seen)
}

func TestAdapter_NonFiniteOutputIsAnError(t *testing.T) {
	a := NewAdapter(&fixedModel{classes: []string{"DDoS", "BENIGN"}, probs: []float64{math.NaN(), math.NaN()}}, 0.9, nil)
	assert.Equal(t, model.Unknown(), a.Classify(features.Row{}))
	assert.EqualValues(t, 1, a.Errors())
}

func TestAdapter_Degraded(t *testing.T) {
	a := Disabled()
	assert.False(t, a.Enabled())
	assert.Equal(t, model.Benign(), a.Classify(features.Row{"duration": "1"}))

	cfg := config.Default().ML
	cfg.Enabled = true
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.json")
	assert.False(t, Load(cfg, nil).Enabled(), "missing artifact degrades")
}

func writeArtifact(t *testing.T, m *Softmax) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSoftmax_PredictProba(t *testing.T) {
	n := len(features.Canonical)
	benign := make([]float64, n)
	attack := make([]float64, n)
	attack[0] = 10 // duration drives the attack class

	path := writeArtifact(t, &Softmax{
		Classes:   []string{"BENIGN", "Slowloris"},
		Weights:   [][]float64{benign, attack},
		Intercept: []float64{5, 0},
	})

	cfg := config.Default().ML
	cfg.Enabled = true
	cfg.ModelPath = path
	a := Load(cfg, nil)
	require.True(t, a.Enabled())

	assert.Equal(t, model.Benign(), a.Classify(features.Row{"duration": "0"}))
	assert.Equal(t, model.Attack("Slowloris"), a.Classify(features.Row{"duration": "2"}))
	// logits 5 and 5 give an even split, below threshold
	assert.Equal(t, model.Unknown(), a.Classify(features.Row{"duration": "0.5"}))
}

func TestSoftmax_Standardises(t *testing.T) {
	n := len(features.Canonical)
	w := make([]float64, n)
	w[0] = 1
	mean := make([]float64, n)
	mean[0] = 100
	scale := make([]float64, n)
	scale[0] = 10

	m := &Softmax{Classes: []string{"a", "b"}, Weights: [][]float64{make([]float64, n), w}, Intercept: []float64{0, 0}, Mean: mean, Scale: scale}
	require.NoError(t, m.validate())

	vec := make([]float64, n)
	vec[0] = 100
	_, probs, err := m.PredictProba(vec)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs[0], 1e-12)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-12)
}

func TestLoadSoftmax_Invalid(t *testing.T) {
	path := writeArtifact(t, &Softmax{Classes: []string{"a"}, Weights: [][]float64{{1, 2}}, Intercept: []float64{0}})
	_, err := LoadSoftmax(path)
	assert.Error(t, err)

	_, err = LoadSoftmax("")
	assert.Error(t, err)
}

func TestHTTPModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Features, len(features.Canonical))
		assert.Equal(t, features.Canonical, req.FeatureNames)
		_ = json.NewEncoder(w).Encode(predictResponse{Classes: []string{"BENIGN", "Bot"}, Probabilities: []float64{0.03, 0.97}})
	}))
	defer srv.Close()

	m, err := NewHTTPModel(srv.URL, time.Second)
	require.NoError(t, err)
	a := NewAdapter(m, 0.9, nil)
	assert.Equal(t, model.Attack("Bot"), a.Classify(features.Row{"duration": "3"}))
}

func TestHTTPModel_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, err := NewHTTPModel(srv.URL, time.Second)
	require.NoError(t, err)
	a := NewAdapter(m, 0.9, nil)
	assert.Equal(t, model.Unknown(), a.Classify(features.Row{}))
	assert.EqualValues(t, 1, a.Errors())
}
