package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
)

// ErrInvalidInput matches every *InvalidInputError via errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// MeasurementFields lists the required measurement fields in model feature order.
var MeasurementFields = []string{"temperature", "wind", "pressure", "humidity", "cloud"}

// InvalidInputError names the measurement field that was missing or not a finite number.
type InvalidInputError struct {
	Field string
	Value string
}

func (e *InvalidInputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s must be a number, got %q", e.Field, e.Value)
}

// Is reports whether target is ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ParseMeasurement converts raw form values into a Measurement. Every field in
// MeasurementFields is required and must parse as a finite float; the first
// offending field is reported.
func ParseMeasurement(values map[string]string) (models.Measurement, error) {
	var parsed [5]float64
	for i, field := range MeasurementFields {
		raw := strings.TrimSpace(values[field])
		if raw == "" {
			return models.Measurement{}, &InvalidInputError{Field: field}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Measurement{}, &InvalidInputError{Field: field, Value: raw}
		}
		parsed[i] = v
	}
	return models.Measurement{
		Temperature: parsed[0],
		Wind:        parsed[1],
		Pressure:    parsed[2],
		Humidity:    parsed[3],
		Cloud:       parsed[4],
	}, nil
}
