package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"hippovol/pkg/study"
)

// SavePlot draws one box per group and timepoint showing the distribution of
// volume changes and saves it to path. The image format follows the file
// extension (png, svg, pdf, ...).
func SavePlot(path string, r *study.Report) error {
	p := plot.New()
	p.Title.Text = "Hippocampal volume change from baseline"
	p.Y.Label.Text = "Volume change (mm³)"
	p.Add(plotter.NewGrid())

	var labels []string
	boxWidth := vg.Points(24)
	for _, tp := range r.Timepoints {
		for _, group := range []struct {
			name   string
			values []float64
		}{
			{study.Treated, tp.Treated.Changes()},
			{study.Control, tp.Control.Changes()},
		} {
			if len(group.values) == 0 {
				continue
			}
			box, err := plotter.NewBoxPlot(boxWidth, float64(len(labels)), plotter.Values(group.values))
			if err != nil {
				return fmt.Errorf("box plot for %s %s: %w", group.name, tp.Label, err)
			}
			p.Add(box)
			labels = append(labels, fmt.Sprintf("%s\n%s", group.name, tp.Label))
		}
	}

	if len(labels) == 0 {
		return fmt.Errorf("no volume changes to plot")
	}
	p.NominalX(labels...)

	width := vg.Length(len(labels)) * 1.5 * vg.Inch
	if width < 4*vg.Inch {
		width = 4 * vg.Inch
	}
	if err := p.Save(width, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
