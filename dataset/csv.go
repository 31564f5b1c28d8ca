// Package dataset reads and writes the tabular CSV files used for batch
// prediction and training.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"diapredict/ml"
)

const (
	PredictionColumn = "Prediction"
	ConfidenceColumn = "Confidence"
	OutcomeColumn    = "Outcome"
)

// Table is a header row plus string cells, kept verbatim so the batch output
// echoes the caller's input.
type Table struct {
	Header []string
	Rows   [][]string
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Read parses a CSV stream. charset is any WHATWG encoding label; empty means
// UTF-8. A leading byte order mark is dropped. An empty stream is an empty
// table.
func Read(r io.Reader, charset string) (*Table, error) {
	decoder, err := decoderFor(charset)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(transform.NewReader(r, decoder))
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ml.ErrSchemaMismatch, err)
	}
	table := &Table{Rows: make([][]string, 0)}
	if len(records) == 0 {
		return table, nil
	}
	table.Header = records[0]
	for i := range table.Header {
		table.Header[i] = strings.TrimSpace(table.Header[i])
	}
	table.Rows = records[1:]
	return table, nil
}

func decoderFor(charset string) (transform.Transformer, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if name == "" || name == "utf-8" || name == "utf8" {
		return unicode.UTF8BOM.NewDecoder(), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
}

// Float64Rows converts every cell to a number, preserving row and column order.
func (t *Table) Float64Rows() ([][]float64, error) {
	return t.float64Columns(nil)
}

func (t *Table) float64Columns(skip map[int]bool) ([][]float64, error) {
	rows := make([][]float64, len(t.Rows))
	for i, record := range t.Rows {
		row := make([]float64, 0, len(record))
		for j, cell := range record {
			if skip[j] {
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %s: %q is not numeric", ml.ErrSchemaMismatch, i+1, t.columnName(j), cell)
			}
			row = append(row, value)
		}
		rows[i] = row
	}
	return rows, nil
}

func (t *Table) columnName(idx int) string {
	if idx < len(t.Header) {
		return t.Header[idx]
	}
	return strconv.Itoa(idx)
}

// CheckHeader reports a mismatch when the header is not exactly expected, in
// order.
func (t *Table) CheckHeader(expected []string) error {
	if len(t.Header) != len(expected) {
		return fmt.Errorf("%w: expected %d columns, got %d", ml.ErrSchemaMismatch, len(expected), len(t.Header))
	}
	for i, name := range expected {
		if !strings.EqualFold(t.Header[i], name) {
			return fmt.Errorf("%w: column %d is %q, expected %q", ml.ErrSchemaMismatch, i+1, t.Header[i], name)
		}
	}
	return nil
}

// AppendColumn adds one value per row under a new header.
func (t *Table) AppendColumn(name string, values []string) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %s has %d values for %d rows", name, len(values), len(t.Rows))
	}
	t.Header = append(t.Header, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], values[i])
	}
	return nil
}

func (t *Table) Write(w io.Writer) error {
	writer := csv.NewWriter(w)
	if len(t.Header) > 0 {
		if err := writer.Write(t.Header); err != nil {
			return err
		}
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	return writer.Error()
}

// AppendPredictions writes the human-readable label column and, when every
// result carries one, the confidence column.
func (t *Table) AppendPredictions(results []ml.PredictionResult) error {
	labels := make([]string, len(results))
	confidences := make([]string, len(results))
	withConfidence := len(results) > 0
	for i, res := range results {
		labels[i] = res.RiskLabel()
		if res.Confidence == nil {
			withConfidence = false
			continue
		}
		confidences[i] = strconv.FormatFloat(*res.Confidence, 'f', 4, 64)
	}
	if err := t.AppendColumn(PredictionColumn, labels); err != nil {
		return err
	}
	if withConfidence {
		return t.AppendColumn(ConfidenceColumn, confidences)
	}
	return nil
}

// Labelled splits a training table into feature rows and binary labels taken
// from labelColumn.
func (t *Table) Labelled(labelColumn string) ([][]float64, []int, error) {
	labelIdx := -1
	for i, name := range t.Header {
		if strings.EqualFold(name, labelColumn) {
			labelIdx = i
			break
		}
	}
	if labelIdx < 0 {
		return nil, nil, fmt.Errorf("label column %q not found", labelColumn)
	}

	features, err := t.float64Columns(map[int]bool{labelIdx: true})
	if err != nil {
		return nil, nil, err
	}
	labels := make([]int, len(t.Rows))
	for i, record := range t.Rows {
		value, err := strconv.Atoi(strings.TrimSpace(record[labelIdx]))
		if err != nil || (value != 0 && value != 1) {
			return nil, nil, fmt.Errorf("row %d: label %q must be 0 or 1", i+1, record[labelIdx])
		}
		labels[i] = value
	}
	return features, labels, nil
}
