package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClassifier calls a model server exposing the TensorFlow Serving REST
// predict API: POST {baseURL}/v1/models/{model}:predict.
type HTTPClassifier struct {
	c         *http.Client
	baseURL   string
	model     string
	numLabels int
}

// NewHTTPClassifier creates a classifier for the given server and model name.
// numLabels is used to validate responses.
func NewHTTPClassifier(baseURL, model string, numLabels int, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		c:         &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		numLabels: numLabels,
	}
}

type predictReq struct {
	Instances [][][]float64 `json:"instances"`
}

type predictResp struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// Classify sends the sequence as a single instance and returns its prediction.
func (h *HTTPClassifier) Classify(ctx context.Context, sequence [][]float64) ([]float64, error) {
	if len(sequence) == 0 {
		return nil, fmt.Errorf("classify: empty sequence")
	}

	b, err := json.Marshal(predictReq{Instances: [][][]float64{sequence}})
	if err != nil {
		return nil, fmt.Errorf("classify encode: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", h.baseURL, h.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("classify %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out predictResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("classify decode: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("classify: %s", out.Error)
	}
	if len(out.Predictions) != 1 {
		return nil, fmt.Errorf("%w: expected 1 prediction, got %d", ErrMalformedOutput, len(out.Predictions))
	}

	probs := out.Predictions[0]
	if err := CheckOutput(probs, h.numLabels); err != nil {
		return nil, err
	}
	return probs, nil
}
