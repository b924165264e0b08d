// Package report renders prediction history for people: chart series, a printable
// summary of the latest prediction, and a spreadsheet export.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kjstillabower/rainfall-advisory-service/internal/advisory"
	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
)

// EmptyPlaceholder is printed when the log holds no predictions.
const EmptyPlaceholder = "No predictions recorded yet."

// ChartSeries is the rainfall time series drawn on the dashboard, oldest first.
// A nil value is a record whose rainfall was not provided.
type ChartSeries struct {
	Dates  []string   `json:"dates"`
	Values []*float64 `json:"values"`
}

// NewChartSeries projects records (append order) onto the chart axes.
func NewChartSeries(records []models.PredictionRecord) ChartSeries {
	s := ChartSeries{
		Dates:  make([]string, 0, len(records)),
		Values: make([]*float64, 0, len(records)),
	}
	for _, r := range records {
		s.Dates = append(s.Dates, r.Date)
		s.Values = append(s.Values, r.PredictedRainfall)
	}
	return s
}

// Report summarizes the most recent prediction. Latest is nil when the log is empty;
// Advisory is nil when the latest record has no rainfall value.
type Report struct {
	GeneratedAt time.Time                `json:"generatedAt"`
	Latest      *models.PredictionRecord `json:"latest,omitempty"`
	Advisory    *advisory.Advisory       `json:"advisory,omitempty"`
}

// NewReport builds the report from the newest record of records, re-deriving the advisory.
func NewReport(records []models.PredictionRecord, now time.Time) Report {
	r := Report{GeneratedAt: now}
	if len(records) == 0 {
		return r
	}
	latest := records[len(records)-1]
	r.Latest = &latest
	if latest.PredictedRainfall != nil {
		a := advisory.Classify(*latest.PredictedRainfall)
		r.Advisory = &a
	}
	return r
}

// WriteText writes a printable report.
func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	b.WriteString("AI Weather Advisory Report\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Local().Format(models.DateLayout))

	if r.Latest == nil {
		b.WriteString(EmptyPlaceholder + "\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	rec := r.Latest
	fields := []struct {
		name  string
		value *float64
	}{
		{"temperature", rec.Temperature},
		{"wind", rec.Wind},
		{"pressure", rec.Pressure},
		{"humidity", rec.Humidity},
		{"cloud", rec.Cloud},
		{"predicted_rainfall", rec.PredictedRainfall},
	}
	fmt.Fprintf(&b, "date: %s\n", rec.Date)
	for _, f := range fields {
		fmt.Fprintf(&b, "%s: %s\n", f.name, formatValue(f.value))
	}

	if r.Advisory != nil {
		a := r.Advisory
		b.WriteString("\nAdvice:\n")
		fmt.Fprintf(&b, "%s\nGeneral: %s\nMaize: %s\nBeans: %s\n", a.Title, a.General, a.Maize, a.Beans)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}
	return advisory.FormatMM(*v)
}
