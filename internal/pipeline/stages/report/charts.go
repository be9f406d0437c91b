package report

import (
	"bytes"
	"fmt"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/jmylchreest/digwatch/internal/models"
)

const (
	chartWidth  = "860px"
	chartHeight = "400px"
)

// durationsChart renders a bar chart of cycle durations as a standalone
// HTML document for embedding in the report's iframe.
func durationsChart(cycles []models.Cycle) (string, error) {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Cycle durations",
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Cycle durations",
			Subtitle: "seconds per cycle",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	labels := make([]string, len(cycles))
	durations := make([]opts.BarData, len(cycles))
	for i, c := range cycles {
		labels[i] = fmt.Sprintf("#%d", c.Number)
		durations[i] = opts.BarData{Value: round1(c.Duration)}
	}
	bar.SetXAxis(labels).AddSeries("Duration (s)", durations)

	return renderChart(bar)
}

// phasesChart renders the per-cycle phase breakdown as a stacked bar chart.
func phasesChart(cycles []models.Cycle) (string, error) {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Phase breakdown",
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Phase breakdown",
			Subtitle: "stacked seconds per cycle",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	labels := make([]string, len(cycles))
	dig := make([]opts.BarData, len(cycles))
	swing := make([]opts.BarData, len(cycles))
	dump := make([]opts.BarData, len(cycles))
	ret := make([]opts.BarData, len(cycles))
	for i, c := range cycles {
		labels[i] = fmt.Sprintf("#%d", c.Number)
		dig[i] = opts.BarData{Value: round1(c.Phases.Dig)}
		swing[i] = opts.BarData{Value: round1(c.Phases.SwingToDump)}
		dump[i] = opts.BarData{Value: round1(c.Phases.Dump)}
		ret[i] = opts.BarData{Value: round1(c.Phases.Return)}
	}

	bar.SetXAxis(labels).
		AddSeries("Dig", dig).
		AddSeries("Swing to dump", swing).
		AddSeries("Dump", dump).
		AddSeries("Return", ret).
		SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "phases"}))

	return renderChart(bar)
}

// renderChart renders a chart into its standalone HTML page.
func renderChart(bar *charts.Bar) (string, error) {
	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		return "", fmt.Errorf("rendering chart: %w", err)
	}
	return buf.String(), nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
