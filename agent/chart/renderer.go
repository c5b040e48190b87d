package chart

import (
	"bytes"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Renderer turns chart data into an image.
type Renderer interface {
	Render(title string, d Data) ([]byte, error)
	Format() string
}

// PlotRenderer draws a grouped bar chart with gonum/plot: one group per
// metric, one bar per entity.
type PlotRenderer struct {
	Width, Height vg.Length
	BarWidth      vg.Length
}

// NewPlotRenderer returns a renderer with the default 10x5 inch canvas.
func NewPlotRenderer() *PlotRenderer {
	return &PlotRenderer{Width: 10 * vg.Inch, Height: 5 * vg.Inch, BarWidth: vg.Points(14)}
}

func (r *PlotRenderer) Format() string { return "png" }

// Render implements Renderer. Missing cells are drawn as zero-height bars.
func (r *PlotRenderer) Render(title string, d Data) ([]byte, error) {
	if len(d.Metrics) == 0 || len(d.Entities) == 0 {
		return nil, fmt.Errorf("nothing to render")
	}
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Value"
	p.Legend.Top = true

	n := len(d.Entities)
	for j, entity := range d.Entities {
		vals := make(plotter.Values, len(d.Metrics))
		for i := range d.Metrics {
			if d.Present[i][j] {
				vals[i] = d.Values[i][j]
			}
		}
		bars, err := plotter.NewBarChart(vals, r.BarWidth)
		if err != nil {
			return nil, fmt.Errorf("bars for %s: %w", entity, err)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(j)
		bars.Offset = vg.Length(float64(j)-float64(n-1)/2) * r.BarWidth
		p.Add(bars)
		p.Legend.Add(entity, bars)
	}
	p.NominalX(d.Metrics...)

	wt, err := p.WriterTo(r.Width, r.Height, r.Format())
	if err != nil {
		return nil, fmt.Errorf("create %s writer: %w", r.Format(), err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}
