package stats

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// WriteClassHistogramPNG renders the class histogram as a PNG bar chart.
func WriteClassHistogramPNG(w io.Writer, r *Report) error {
	hist := r.Histogram()
	values := make(plotter.Values, len(hist))
	names := make([]string, len(hist))
	for i, h := range hist {
		values[i] = float64(h.Count)
		names[i] = string(h.Class)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Class distribution (%d %s frames)", r.Sampled, r.Side)
	p.Y.Label.Text = "Labels"

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return fmt.Errorf("build bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	wt, err := p.WriterTo(12*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write histogram: %w", err)
	}
	return nil
}

// RenderClassHistogramHTML renders the class histogram as a standalone
// go-echarts page.
func RenderClassHistogramHTML(w io.Writer, r *Report) error {
	hist := r.Histogram()
	x := make([]string, len(hist))
	y := make([]opts.BarData, len(hist))
	for i, h := range hist {
		x[i] = string(h.Class)
		y[i] = opts.BarData{Value: h.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "V2X class distribution", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Class distribution", Subtitle: fmt.Sprintf("run=%s side=%s sampled=%d", r.RunID, r.Side, r.Sampled)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("labels", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render histogram page: %w", err)
	}
	return nil
}
