package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictlog"
)

// HistorySheet is the worksheet name of the history export.
const HistorySheet = "Predictions"

// WriteXLSX writes records as a spreadsheet with the log's columns in log order.
// Missing values are empty cells. No records yields a header-only sheet.
func WriteXLSX(w io.Writer, records []models.PredictionRecord) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close workbook: %w", closeErr)
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), HistorySheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	header := make([]interface{}, len(predictlog.Columns))
	for i, c := range predictlog.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(HistorySheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(predictlog.Columns), 1)
	if err := f.SetCellStyle(HistorySheet, "A1", last, bold); err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetColWidth(HistorySheet, "A", "A", 20); err != nil {
		return fmt.Errorf("column width: %w", err)
	}

	for i, rec := range records {
		row := []interface{}{
			rec.Date,
			cellValue(rec.Temperature),
			cellValue(rec.Wind),
			cellValue(rec.Pressure),
			cellValue(rec.Humidity),
			cellValue(rec.Cloud),
			cellValue(rec.PredictedRainfall),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(HistorySheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
