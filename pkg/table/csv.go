package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyCSV is returned when the input has no header row.
var ErrEmptyCSV = errors.New("csv input has no header")

// ReadCSV reads a table with a header row. A column is numeric when every non-empty
// cell parses as a float; empty cells of numeric columns become NaN.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	if len(records) == 0 {
		return nil, ErrEmptyCSV
	}

	header, rows := records[0], records[1:]
	cols := make([]*Column, len(header))

	for j, name := range header {
		cols[j] = buildCSVColumn(strings.TrimSpace(name), j, rows)
	}

	return New(cols...)
}

func buildCSVColumn(name string, j int, rows [][]string) *Column {
	nums := make([]float64, len(rows))
	numeric := true

	for i, rec := range rows {
		cell := strings.TrimSpace(rec[j])
		if cell == "" {
			nums[i] = math.NaN()

			continue
		}

		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			numeric = false

			break
		}

		nums[i] = f
	}

	if numeric {
		return NewNumeric(name, nums...)
	}

	texts := make([]string, len(rows))
	for i, rec := range rows {
		texts[i] = strings.TrimSpace(rec[j])
	}

	return NewText(name, texts...)
}

// WriteCSV writes t with a header row.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)

	err := writer.Write(t.ColumnNames())
	if err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, t.NumColumns())

	for i := range t.NumRows() {
		for j, col := range t.Columns() {
			record[j] = col.Text(i)
		}

		err = writer.Write(record)
		if err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}

	writer.Flush()

	err = writer.Error()
	if err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	return nil
}
