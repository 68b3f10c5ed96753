// Package render draws the aggregation views: interactive echarts pages for
// the dashboard and static PNG heatmaps for export.
package render

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/noise.report/internal/aggregate"
	"github.com/banshee-data/noise.report/internal/units"
)

// AssetsHost is where rendered pages load the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Colour scale and gauge dial ranges in dB.
const (
	HeatmapMinDB = 40
	HeatmapMaxDB = 85
	GaugeMinDB   = 20
	GaugeMaxDB   = 120
)

// Blue (quiet) to red (loud).
var heatmapColours = []string{
	"#313695", "#4575b4", "#74add1", "#abd9e9", "#e0f3f8", "#ffffbf",
	"#fee090", "#fdae61", "#f46d43", "#d73027", "#a50026",
}

// GaugeHTML writes a page with the maximum-level gauge for selectedDay.
func GaugeHTML(w io.Writer, value float64, selectedDay *int) error {
	band := units.Classify(value)
	subtitle := "no day selected"
	if selectedDay != nil {
		subtitle = fmt.Sprintf("%s, %+.1f dB vs %.0f dB reference, %s",
			aggregate.DayLabel(*selectedDay), value-units.GaugeReferenceDB, units.GaugeReferenceDB, band)
	}

	gauge := charts.NewGauge()
	gauge.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Maximum Decibel Level", Width: "600px", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Maximum Decibel Level", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	gauge.AddSeries("max", []opts.GaugeData{{Name: "dB", Value: value}},
		charts.WithItemStyleOpts(opts.ItemStyle{Color: band.Colour()}),
		charts.WithSeriesOpts(func(s *charts.SingleSeries) {
			s.Min = GaugeMinDB
			s.Max = GaugeMaxDB
			s.Progress = &opts.Progress{Show: opts.Bool(true), Width: 18}
			s.Detail = &opts.Detail{Show: opts.Bool(true), Formatter: "{value} dB"}
		}),
	)
	return gauge.Render(w)
}

// HeatmapHTML writes a page with the month by day heatmap.
func HeatmapHTML(w io.Writer, h aggregate.Heatmap, minDb float64) error {
	data := make([]opts.HeatMapData, 0, len(h.Months)*len(h.Days))
	for r, row := range h.Matrix {
		for c, v := range row {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, r, v}})
		}
	}

	subtitle := fmt.Sprintf("daily maximum of readings at or above %.0f dB", minDb)
	if h.Empty() {
		subtitle = fmt.Sprintf("no readings at or above %.0f dB", minDb)
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Decibel Heatmap", Width: "100%", Height: "520px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Time by Decibel Level", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: h.DayLabels, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: h.MonthLabels, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        HeatmapMinDB,
			Max:        HeatmapMaxDB,
			Orient:     "horizontal",
			Left:       "center",
			InRange:    &opts.VisualMapInRange{Color: heatmapColours},
		}),
	)
	hm.SetXAxis(h.DayLabels)
	hm.AddSeries("max dB", data, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}))
	return hm.Render(w)
}
