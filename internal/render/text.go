// Package render prints models and result tables as terminal tables and HTML
// chart pages.
package render

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

const (
	// significantDigits is the precision of non-integral numbers.
	significantDigits = 6
	// maxCommaInteger bounds integers printed with thousands separators.
	maxCommaInteger = 1e15
)

// Options tunes terminal output.
type Options struct {
	// MaxRows truncates long tables; zero prints every row.
	MaxRows int
	// NoColor disables colored titles.
	NoColor bool
}

// Model writes every block of m as a titled table.
func Model(w io.Writer, m *model.Model, o Options) error {
	title := newTitle(o)

	_, err := fmt.Fprintf(w, "%s\n\n", title.Sprintf("=== %s ===", strings.ToUpper(m.Estimator())))
	if err != nil {
		return err
	}

	for _, b := range m.Blocks() {
		err = Table(w, b.Name, b.Table, o)
		if err != nil {
			return err
		}
	}

	return nil
}

// Table writes t under title.
func Table(w io.Writer, title string, t *table.Table, o Options) error {
	tw := prettytable.NewWriter()
	tw.SetStyle(prettytable.StyleLight)
	tw.Style().Options.SeparateRows = false

	header := make(prettytable.Row, t.NumColumns())
	for i, name := range t.ColumnNames() {
		header[i] = name
	}

	tw.AppendHeader(header)

	shown := t.NumRows()
	if o.MaxRows > 0 {
		shown = min(shown, o.MaxRows)
	}

	for r := range shown {
		vals := t.Row(r)
		row := make(prettytable.Row, len(vals))

		for i, v := range vals {
			row[i] = FormatValue(v)
		}

		tw.AppendRow(row)
	}

	footer := humanize.Comma(int64(t.NumRows())) + " rows"
	if shown < t.NumRows() {
		footer = fmt.Sprintf("showing %s of %s", humanize.Comma(int64(shown)), footer)
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n\n", newTitle(o).Sprint(title), tw.Render(), footer)

	return err
}

// FormatValue prints integers with thousands separators and other numbers with six
// significant digits.
func FormatValue(v table.Value) string {
	if v.IsText() {
		return v.String()
	}

	f := v.Float()

	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return strconv.FormatFloat(f, 'g', -1, 64)
	case f == math.Trunc(f) && math.Abs(f) < maxCommaInteger:
		return humanize.Comma(int64(f))
	default:
		return strconv.FormatFloat(f, 'g', significantDigits, 64)
	}
}

func newTitle(o Options) *color.Color {
	c := color.New(color.FgCyan, color.Bold)
	if o.NoColor {
		c.DisableColor()
	}

	return c
}
