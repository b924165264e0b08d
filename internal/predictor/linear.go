package predictor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// FeatureNames lists the model inputs in feature order.
var FeatureNames = [5]string{"temperature", "wind", "pressure", "humidity", "cloud"}

// LinearModel is a regression exported as an intercept plus one coefficient per feature.
type LinearModel struct {
	intercept    float64
	coefficients [5]float64
	clampMin     *float64
}

type linearFile struct {
	Intercept    float64            `yaml:"intercept"`
	Coefficients map[string]float64 `yaml:"coefficients"`
	ClampMin     *float64           `yaml:"clamp_min"`
}

// LoadLinearModel reads coefficients from a YAML file:
//
//	intercept: -120.5
//	coefficients: {temperature: 0.4, wind: 0.1, pressure: 0.11, humidity: 0.3, cloud: 0.2}
//	clamp_min: 0
//
// Every feature needs a coefficient. A missing or malformed file is ErrModelUnavailable.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: model file not found: %s", ErrModelUnavailable, path)
		}
		return nil, fmt.Errorf("%w: read model file: %w", ErrModelUnavailable, err)
	}
	var lf linearFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: parse model file: %w", ErrModelUnavailable, err)
	}
	return NewLinearModel(lf.Intercept, lf.Coefficients, lf.ClampMin)
}

// NewLinearModel builds a model from named coefficients. clampMin, when set, is a floor on the output.
func NewLinearModel(intercept float64, coefficients map[string]float64, clampMin *float64) (*LinearModel, error) {
	m := &LinearModel{intercept: intercept, clampMin: clampMin}
	for i, name := range FeatureNames {
		c, ok := coefficients[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing coefficient for %s", ErrModelUnavailable, name)
		}
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: coefficient for %s is not finite", ErrModelUnavailable, name)
		}
		m.coefficients[i] = c
	}
	if len(coefficients) != len(FeatureNames) {
		for name := range coefficients {
			if !isFeature(name) {
				return nil, fmt.Errorf("%w: unknown feature %q", ErrModelUnavailable, name)
			}
		}
	}
	return m, nil
}

func isFeature(name string) bool {
	for _, f := range FeatureNames {
		if f == name {
			return true
		}
	}
	return false
}

// Predict implements Predictor.
func (m *LinearModel) Predict(ctx context.Context, features [5]float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	y := m.intercept
	for i, x := range features {
		y += m.coefficients[i] * x
	}
	if m.clampMin != nil && y < *m.clampMin {
		y = *m.clampMin
	}
	return y, nil
}

// Name implements Predictor.
func (m *LinearModel) Name() string { return BackendLinear }
