package classifier

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"Go2NetMon/internal/features"

	"github.com/cockroachdb/errors"
)

// HTTPModel delegates prediction to a model server. The server receives
// {"feature_names": [...], "features": [...]} and answers
// {"classes": [...], "probabilities": [...]}.
type HTTPModel struct {
	url    string
	client *http.Client
}

type predictRequest struct {
	FeatureNames []string  `json:"feature_names"`
	Features     []float64 `json:"features"`
}

type predictResponse struct {
	Classes       []string  `json:"classes"`
	Probabilities []float64 `json:"probabilities"`
}

// NewHTTPModel returns a client for the model server at url.
func NewHTTPModel(url string, timeout time.Duration) (*HTTPModel, error) {
	if url == "" {
		return nil, errors.New("model url is not configured")
	}
	return &HTTPModel{url: url, client: &http.Client{Timeout: timeout}}, nil
}

// PredictProba implements Model.
func (m *HTTPModel) PredictProba(vector []float64) ([]string, []float64, error) {
	body, err := json.Marshal(predictRequest{FeatureNames: features.Canonical, Features: vector})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to encode prediction request")
	}
	resp, err := m.client.Post(m.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, nil, errors.Wrap(err, "prediction request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Newf("model server returned status %d", resp.StatusCode)
	}
	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode prediction response")
	}
	return out.Classes, out.Probabilities, nil
}
