package sentiment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultInferenceEndpoint serves hosted text-classification models.
const DefaultInferenceEndpoint = "https://api-inference.huggingface.co/models/"

// HuggingFaceConfig configures the hosted inference backend.
type HuggingFaceConfig struct {
	Endpoint string
	Model    string
	Token    string
	Timeout  time.Duration
}

// HuggingFace classifies texts with a hosted text-classification model.
type HuggingFace struct {
	url    string
	model  string
	token  string
	client *http.Client
}

type inferenceRequest struct {
	Inputs  []string          `json:"inputs"`
	Options map[string]any    `json:"options,omitempty"`
	Params  map[string]string `json:"parameters,omitempty"`
}

type inferenceLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NewHuggingFace constructs the backend. httpClient may be nil.
func NewHuggingFace(cfg HuggingFaceConfig, httpClient *http.Client) (*HuggingFace, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultInferenceEndpoint
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fmt.Errorf("inference endpoint must be http(s), got %q", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	httpClient = withTimeout(httpClient, cfg.Timeout)
	return &HuggingFace{
		url:    strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Model,
		model:  cfg.Model,
		token:  cfg.Token,
		client: httpClient,
	}, nil
}

// Name implements Model.
func (h *HuggingFace) Name() string {
	return h.model
}

// ClassifyBatch implements Model. The service answers either with the top
// label per input or with every label per input; the highest score wins.
func (h *HuggingFace) ClassifyBatch(ctx context.Context, texts []string) ([]Prediction, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(inferenceRequest{
		Inputs:  texts,
		Options: map[string]any{"wait_for_model": true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decodePredictions(body, len(texts))
}

func decodePredictions(body []byte, want int) ([]Prediction, error) {
	var nested [][]inferenceLabel
	if err := json.Unmarshal(body, &nested); err == nil && len(nested) == want {
		out := make([]Prediction, 0, want)
		for i, labels := range nested {
			if len(labels) == 0 {
				return nil, fmt.Errorf("no labels for input %d", i)
			}
			best := labels[0]
			for _, l := range labels[1:] {
				if l.Score > best.Score {
					best = l
				}
			}
			out = append(out, Prediction{Label: best.Label, Score: best.Score})
		}
		return out, nil
	}
	var flat []inferenceLabel
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	if len(flat) != want {
		return nil, errPredictionCount(len(flat), want)
	}
	out := make([]Prediction, 0, want)
	for _, l := range flat {
		out = append(out, Prediction{Label: l.Label, Score: l.Score})
	}
	return out, nil
}

// withTimeout returns a client bounded by timeout. A caller-supplied client
// keeps its own timeout when it has one.
func withTimeout(c *http.Client, timeout time.Duration) *http.Client {
	if c == nil {
		return &http.Client{Timeout: timeout}
	}
	if c.Timeout > 0 || timeout <= 0 {
		return c
	}
	bounded := *c
	bounded.Timeout = timeout
	return &bounded
}
