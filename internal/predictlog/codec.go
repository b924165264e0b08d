package predictlog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
)

// Columns is the fixed column order of the log. The order is part of the on-disk contract.
var Columns = []string{"date", "temperature", "wind", "pressure", "humidity", "cloud", "predicted_rainfall"}

const (
	colDate = iota
	colTemperature
	colWind
	colPressure
	colHumidity
	colCloud
	colPredictedRainfall
)

// EncodeHeader returns the header line, newline terminated.
func EncodeHeader() []byte {
	b, _ := encodeLine(Columns)
	return b
}

// EncodeRecord returns rec as one CSV line, newline terminated.
// Nil fields become empty cells.
func EncodeRecord(rec models.PredictionRecord) ([]byte, error) {
	return encodeLine([]string{
		rec.Date,
		formatFloat(rec.Temperature),
		formatFloat(rec.Wind),
		formatFloat(rec.Pressure),
		formatFloat(rec.Humidity),
		formatFloat(rec.Cloud),
		formatFloat(rec.PredictedRainfall),
	})
}

func encodeLine(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Decoder reads PredictionRecords from a log, locating columns by header name.
// Each line is parsed on its own with lenient quoting, so a stray quote in a
// hand-edited row affects that row only. Quoted fields never span lines.
type Decoder struct {
	r     *bufio.Reader
	line  int
	index [7]int // column position per field, -1 when the header lacks it
}

// NewDecoder reads the header from r. Header names are matched case-insensitively
// after trimming whitespace and a UTF-8 BOM; unknown columns are ignored.
// Returns io.EOF for an empty input and ErrUnreadable when the header names none
// of the log's columns or cannot be read.
func NewDecoder(r io.Reader) (*Decoder, error) {
	d := &Decoder{r: bufio.NewReader(r)}
	head, err := d.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: header: %v", ErrUnreadable, err)
	}

	positions := make(map[string]int, len(head))
	for i, h := range head {
		name := normalizeHeader(h)
		if _, dup := positions[name]; !dup {
			positions[name] = i
		}
	}
	found := 0
	for i, col := range Columns {
		d.index[i] = -1
		if pos, ok := positions[col]; ok {
			d.index[i] = pos
			found++
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: header has none of %s", ErrUnreadable, strings.Join(Columns, ","))
	}
	return d, nil
}

// Decode returns the next record, or io.EOF when the input is exhausted.
// Short rows leave trailing fields nil; cells that do not parse as numbers decode as nil.
// Blank lines are skipped.
func (d *Decoder) Decode() (models.PredictionRecord, error) {
	row, err := d.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.PredictionRecord{}, io.EOF
		}
		return models.PredictionRecord{}, fmt.Errorf("%w: line %d: %v", ErrUnreadable, d.line, err)
	}
	get := func(field int) string {
		idx := d.index[field]
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	return models.PredictionRecord{
		Date:              get(colDate),
		Temperature:       parseFloat(get(colTemperature)),
		Wind:              parseFloat(get(colWind)),
		Pressure:          parseFloat(get(colPressure)),
		Humidity:          parseFloat(get(colHumidity)),
		Cloud:             parseFloat(get(colCloud)),
		PredictedRainfall: parseFloat(get(colPredictedRainfall)),
	}, nil
}

// next returns the fields of the next non-blank line. A final line without a
// terminating newline is still returned.
func (d *Decoder) next() ([]string, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if strings.TrimSpace(line) != "" {
			d.line++
			return splitLine(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return nil, io.EOF
		}
		d.line++
	}
}

func splitLine(line string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.Read()
}

func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	return strings.ToLower(strings.TrimSpace(s))
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
