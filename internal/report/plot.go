package report

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/heading.fusion/internal/units"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no innovation samples to plot")

var palette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
}

// PlotInnovations writes a PNG of innovation against time, one line per
// source, with gate rejections drawn as crosses.
func PlotInnovations(series []Series, angleUnits, path string) error {
	origin := startUs(series)

	p := plot.New()
	p.Title.Text = "Heading innovations"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = fmt.Sprintf("Innovation (%s)", angleUnits)

	drawn := 0
	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, 0, len(s.Points))
		rejected := make(plotter.XYs, 0)
		for _, pt := range s.Points {
			xy := plotter.XY{X: seconds(pt.TimeUs, origin), Y: units.ConvertAngle(pt.Innovation, angleUnits)}
			pts = append(pts, xy)
			if pt.Rejected {
				rejected = append(rejected, xy)
			}
		}

		c := palette[i%len(palette)]
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = c
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(string(s.Source), line)

		if len(rejected) > 0 {
			sc, err := plotter.NewScatter(rejected)
			if err != nil {
				return err
			}
			sc.Color = c
			sc.Shape = draw.CrossGlyph{}
			p.Add(sc)
		}
		drawn++
	}
	if drawn == 0 {
		return ErrNoData
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save innovation plot: %w", err)
	}
	return nil
}
