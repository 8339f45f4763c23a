package render

import (
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/multicorrelative"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

const (
	chartWidth    = "100%"
	chartHeight   = "420px"
	labelRotate   = 30
	labelFontSize = 11
	missingValue  = "-"
)

// Page writes an HTML page with one chart per block of m: a heat map for covariance
// blocks and a bar chart for every other block with numeric columns.
func Page(w io.Writer, m *model.Model) error {
	page := components.NewPage()
	page.PageTitle = m.Estimator() + " model"

	covariances := make(map[string]bool)

	for _, b := range multicorrelative.Requests(m) {
		covariances[b.Name] = true

		hm := covarianceChart(b.Name, b.Table)
		if hm != nil {
			page.AddCharts(hm)
		}
	}

	for _, b := range m.Blocks() {
		if covariances[b.Name] {
			continue
		}

		bar := blockChart(b.Name, b.Table)
		if bar != nil {
			page.AddCharts(bar)
		}
	}

	return page.Render(w)
}

func chartValue(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return missingValue
	}

	return f
}

// rowLabels names rows after the first non-numeric column, or by index.
func rowLabels(t *table.Table) []string {
	labels := make([]string, t.NumRows())

	for _, col := range t.Columns() {
		if col.Kind() == table.KindNumeric {
			continue
		}

		for i := range labels {
			labels[i] = col.Value(i).String()
		}

		return labels
	}

	for i := range labels {
		labels[i] = strconv.Itoa(i)
	}

	return labels
}

func blockChart(name string, t *table.Table) *charts.Bar {
	if t.NumRows() == 0 {
		return nil
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: name}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll", Top: "8%"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Rotate: labelRotate, Interval: "0", FontSize: labelFontSize},
		}),
	)
	bar.SetXAxis(rowLabels(t))

	series := 0

	for _, col := range t.Columns() {
		if col.Kind() != table.KindNumeric {
			continue
		}

		data := make([]opts.BarData, col.Len())
		for i := range data {
			data[i] = opts.BarData{Value: chartValue(col.Float(i))}
		}

		bar.AddSeries(col.Name(), data)

		series++
	}

	if series == 0 {
		return nil
	}

	return bar
}

func covarianceChart(name string, block *table.Table) *charts.HeatMap {
	cov, err := multicorrelative.ReadCovariance(block)
	if err != nil {
		return nil
	}

	dim := len(cov.Variables)
	data := make([]opts.HeatMapData, 0, dim*dim)
	lo, hi := math.Inf(1), math.Inf(-1)

	for i := range dim {
		for j := range dim {
			v := cov.Matrix.At(i, j)
			if !math.IsNaN(v) {
				lo, hi = min(lo, v), max(hi, v)
			}

			data = append(data, opts.HeatMapData{Value: []any{i, j, chartValue(v)}})
		}
	}

	if lo > hi {
		lo, hi = 0, 0
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: name, Subtitle: "Covariance matrix"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "category", Data: cov.Variables,
			SplitArea: &opts.SplitArea{Show: opts.Bool(true)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "category", Data: cov.Variables,
			SplitArea: &opts.SplitArea{Show: opts.Bool(true)},
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true), Min: float32(lo), Max: float32(hi),
			Orient: "horizontal", Left: "center", Bottom: "2%",
		}),
	)
	hm.AddSeries("Covariance", data, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "inside"}))

	return hm
}
