package models

import (
	"fmt"
	"time"
)

// PredictionRecord is one row of the prediction log. A nil field means the value
// was not provided and is stored as an empty cell.
type PredictionRecord struct {
	Date              string   `json:"date"`
	Temperature       *float64 `json:"temperature"`
	Wind              *float64 `json:"wind"`
	Pressure          *float64 `json:"pressure"`
	Humidity          *float64 `json:"humidity"`
	Cloud             *float64 `json:"cloud"`
	PredictedRainfall *float64 `json:"predicted_rainfall"`
}

// NewPredictionRecord builds a fully populated record for a prediction made at t.
func NewPredictionRecord(t time.Time, m Measurement, rainfallMM float64) PredictionRecord {
	return PredictionRecord{
		Date:              t.Local().Format(DateLayout),
		Temperature:       Float(m.Temperature),
		Wind:              Float(m.Wind),
		Pressure:          Float(m.Pressure),
		Humidity:          Float(m.Humidity),
		Cloud:             Float(m.Cloud),
		PredictedRainfall: Float(rainfallMM),
	}
}

// Time parses Date in the local time zone.
func (r PredictionRecord) Time() (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, r.Date, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse record date %q: %w", r.Date, err)
	}
	return t, nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
