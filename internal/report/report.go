// Package report renders rate-series visualisations: an interactive
// ECharts HTML page for the debug surface and a static PNG for archived
// analysis artifacts.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/greenwave.report/internal/flow"
)

// RenderRateChartHTML writes an interactive line chart of the smoothed
// vehicle rate per one-second bucket.
func RenderRateChartHTML(w io.Writer, title, subtitle string, samples []flow.Sample) error {
	xs := make([]string, len(samples))
	ys := make([]opts.LineData, len(samples))
	for i, s := range samples {
		xs[i] = fmt.Sprintf("%d", s.Bucket)
		ys[i] = opts.LineData{Value: s.Rate}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Traffic Flow Rate",
			Theme:     "dark",
			Width:     "1100px",
			Height:    "520px",
		}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "bucket (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles/s"}),
	)
	line.SetXAxis(xs).
		AddSeries("smoothed rate", ys,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(true)}),
		)

	return line.Render(w)
}

// SaveRatePlotPNG writes a static line plot of the rate series to path.
func SaveRatePlotPNG(path, title string, samples []flow.Sample) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Bucket (s)"
	p.Y.Label.Text = "Vehicles/s"

	pts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		pts = append(pts, plotter.XY{X: float64(s.Bucket), Y: s.Rate})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("build rate line: %w", err)
	}
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("smoothed rate", line)
	p.Legend.Top = true

	if err := p.Save(12*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save rate plot: %w", err)
	}
	return nil
}

// FormatTimestamp names report artifacts by wall-clock time.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}
