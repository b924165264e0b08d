package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kjstillabower/rainfall-advisory-service/internal/circuitbreaker"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
)

// maxResponseBytes caps the inference response body.
const maxResponseBytes = 1 << 16

// RemoteModel calls a model served over HTTP:
//
//	POST {"features": [[t, w, p, h, c]]}  ->  {"prediction": x} or {"predictions": [x]}
type RemoteModel struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// RemoteOption configures a RemoteModel.
type RemoteOption func(*RemoteModel)

// WithBreaker routes requests through cb. Only ErrModelUnavailable outcomes count as failures.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) RemoteOption {
	return func(m *RemoteModel) { m.breaker = cb }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(m *RemoteModel) { m.client = c }
}

// NewRemoteModel returns a client for the inference endpoint at url.
func NewRemoteModel(url string, timeout time.Duration, opts ...RemoteOption) (*RemoteModel, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: remote model url is required", ErrModelUnavailable)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	m := &RemoteModel{url: url, client: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// IsModelFault reports whether err should count against the model's circuit breaker.
func IsModelFault(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}

type inferenceRequest struct {
	Features [][5]float64 `json:"features"`
}

type inferenceResponse struct {
	Prediction  json.RawMessage   `json:"prediction"`
	Predictions []json.RawMessage `json:"predictions"`
}

// Predict implements Predictor.
func (m *RemoteModel) Predict(ctx context.Context, features [5]float64) (float64, error) {
	if m.breaker == nil {
		return m.call(ctx, features)
	}
	var out float64
	err := m.breaker.Call(ctx, func() error {
		var err error
		out, err = m.call(ctx, features)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return 0, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return out, err
}

func (m *RemoteModel) call(ctx context.Context, features [5]float64) (float64, error) {
	body, err := json.Marshal(inferenceRequest{Features: [][5]float64{features}})
	if err != nil {
		return 0, fmt.Errorf("encode features: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %w", ErrModelUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %w", ErrModelUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: HTTP %d", ErrModelUnavailable, resp.StatusCode)
	}
	return decodePrediction(raw)
}

func decodePrediction(raw []byte) (float64, error) {
	var resp inferenceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("%w: parse response: %w", ErrInvalidPrediction, err)
	}
	value := resp.Prediction
	if len(value) == 0 && len(resp.Predictions) > 0 {
		value = resp.Predictions[0]
	}
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return 0, fmt.Errorf("%w: response has no prediction", ErrInvalidPrediction)
	}
	var v float64
	if err := json.Unmarshal(value, &v); err != nil {
		return 0, fmt.Errorf("%w: prediction %s is not a number", ErrInvalidPrediction, value)
	}
	return v, nil
}

// Name implements Predictor.
func (m *RemoteModel) Name() string { return BackendRemote }
