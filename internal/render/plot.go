package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/noise.report/internal/aggregate"
)

// ErrEmptyHeatmap is returned when there is nothing to draw.
var ErrEmptyHeatmap = errors.New("render: heatmap has no cells")

// heatGrid adapts a Heatmap to plotter.GridXYZ with columns for days and
// rows for months. The fixed Min and Max pin the colour scale.
type heatGrid struct {
	h aggregate.Heatmap
}

func (g heatGrid) Dims() (c, r int)   { return len(g.h.Days), len(g.h.Months) }
func (g heatGrid) Z(c, r int) float64 { return g.h.Matrix[r][c] }
func (g heatGrid) X(c int) float64    { return float64(c) }
func (g heatGrid) Y(r int) float64    { return float64(r) }
func (g heatGrid) Min() float64       { return HeatmapMinDB }
func (g heatGrid) Max() float64       { return HeatmapMaxDB }

type colours []color.Color

func (c colours) Colors() []color.Color { return c }

// loudPalette runs from pale yellow for quieter cells to red for the loudest.
func loudPalette(n int) palette.Palette {
	heat := palette.Heat(n, 1).Colors()
	out := make(colours, len(heat))
	for i, c := range heat {
		out[len(heat)-1-i] = c
	}
	return out
}

// HeatmapPNG draws h as a PNG of the given size, with each cell labelled
// with its level. Empty cells are left white.
func HeatmapPNG(w io.Writer, h aggregate.Heatmap, minDb float64, width, height vg.Length) error {
	if h.Empty() {
		return ErrEmptyHeatmap
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Daily maximum, readings at or above %.0f dB", minDb)

	pal := loudPalette(16)
	hm := plotter.NewHeatMap(heatGrid{h}, pal)
	hm.Underflow = color.White
	hm.Overflow = pal.Colors()[len(pal.Colors())-1]
	p.Add(hm)

	var cells plotter.XYLabels
	for r, row := range h.Matrix {
		for c, v := range row {
			if v == 0 {
				continue
			}
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(c), Y: float64(r)})
			cells.Labels = append(cells.Labels, strconv.FormatFloat(v, 'f', 1, 64))
		}
	}
	if len(cells.XYs) > 0 {
		labels, err := plotter.NewLabels(cells)
		if err != nil {
			return fmt.Errorf("heatmap labels: %w", err)
		}
		p.Add(labels)
	}

	p.NominalX(h.DayLabels...)
	p.NominalY(h.MonthLabels...)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("heatmap png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// DefaultPNGSize picks a canvas that keeps cells roughly square.
func DefaultPNGSize(h aggregate.Heatmap) (vg.Length, vg.Length) {
	width := vg.Length(len(h.Days)+2) * vg.Centimeter * 1.5
	height := vg.Length(len(h.Months)+2) * vg.Centimeter * 1.5
	if width < 12*vg.Centimeter {
		width = 12 * vg.Centimeter
	}
	if height < 8*vg.Centimeter {
		height = 8 * vg.Centimeter
	}
	return width, height
}
