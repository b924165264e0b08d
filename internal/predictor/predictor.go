// Package predictor adapts the pre-trained rainfall regression model. The model is
// opaque: five features in, one rainfall estimate in millimetres out.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrModelUnavailable means no model is loaded, configured, or reachable.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInvalidPrediction means the model returned a non-numeric or non-finite value.
	ErrInvalidPrediction = errors.New("invalid prediction")
)

// Predictor estimates rainfall (mm) from features ordered
// [temperature, wind, pressure, humidity, cloud].
type Predictor interface {
	Predict(ctx context.Context, features [5]float64) (float64, error)
	// Name is a short backend label for logs and metrics.
	Name() string
}

// Func adapts a function to Predictor.
type Func func(ctx context.Context, features [5]float64) (float64, error)

// Predict calls f.
func (f Func) Predict(ctx context.Context, features [5]float64) (float64, error) {
	return f(ctx, features)
}

// Name implements Predictor.
func (f Func) Name() string { return "func" }

// CheckPrediction returns ErrInvalidPrediction for NaN or infinite values.
func CheckPrediction(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPrediction, v)
	}
	return nil
}

// Backend names accepted by New.
const (
	BackendNone   = "none"
	BackendLinear = "linear"
	BackendRemote = "remote"
)

// Config selects and configures a model backend.
type Config struct {
	Backend string
	Path    string        // linear: coefficients YAML file
	URL     string        // remote: inference endpoint
	Timeout time.Duration // remote: per-request timeout
}

// New builds the configured backend. BackendNone (or empty) returns a nil Predictor
// and no error. A backend that cannot be loaded returns an error wrapping ErrModelUnavailable.
func New(cfg Config, opts ...RemoteOption) (Predictor, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return nil, nil
	case BackendLinear:
		m, err := LoadLinearModel(cfg.Path)
		if err != nil {
			return nil, err
		}
		return m, nil
	case BackendRemote:
		m, err := NewRemoteModel(cfg.URL, cfg.Timeout, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrModelUnavailable, cfg.Backend)
	}
}
