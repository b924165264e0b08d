package models

import "time"

// DateLayout is the on-disk format of PredictionRecord.Date (local time, second precision).
const DateLayout = "2006-01-02 15:04:05"

// Measurement is the five-reading input to the rainfall model.
// Units: temperature °C, wind km/h, pressure mb, humidity %, cloud % cover.
type Measurement struct {
	Temperature float64 `json:"temperature"`
	Wind        float64 `json:"wind"`
	Pressure    float64 `json:"pressure"`
	Humidity    float64 `json:"humidity"`
	Cloud       float64 `json:"cloud"`
}

// Features returns the readings in model input order: temperature, wind, pressure, humidity, cloud.
func (m Measurement) Features() [5]float64 {
	return [5]float64{m.Temperature, m.Wind, m.Pressure, m.Humidity, m.Cloud}
}

// Conditions is the current weather for a city as reported by the upstream weather API.
type Conditions struct {
	City        string    `json:"city"`
	Measurement `json:"measurement"`
	FetchedAt   time.Time `json:"fetchedAt"`
}
