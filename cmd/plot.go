package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"shpdata/internal/trace"
)

var (
	flagPlotStart float64
	flagPlotEnd   float64
	flagPlotOut   string
	flagPlotForce bool
)

// plotMaxPoints bounds the number of points per panel; denser data is
// mean-aggregated before plotting.
const plotMaxPoints = 2000

var plotCmd = &cobra.Command{
	Use:   "plot <file>",
	Short: "Render voltage, current and power to a PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bar, progress := newBar("plotting")
		defer bar.Finish()

		r, err := trace.Open(args[0], trace.WithLogger(log), trace.WithProgress(progress))
		if err != nil {
			return err
		}
		defer r.Close()

		start, end, err := sampleRange(r, flagPlotStart, flagPlotEnd)
		if err != nil {
			return err
		}
		vs, is, err := plotSeries(r, start, end)
		if err != nil {
			return err
		}

		out := flagPlotOut
		if out == "" {
			out = withSuffix(args[0], ".png")
		}
		if _, err := os.Stat(out); err == nil && !flagPlotForce {
			return fmt.Errorf("write %s: %w", out, os.ErrExist)
		}
		if err := renderPanels(out, args[0], vs, is); err != nil {
			return err
		}
		fmt.Printf("%s: wrote %s\n", args[0], out)
		return nil
	},
}

// plotSeries reads the range and mean-aggregates it down to a plottable
// density. X is seconds from the range start.
func plotSeries(r *trace.Reader, start, end int64) (vs, is plotter.XYs, err error) {
	n := end - start
	factor := int((n + plotMaxPoints - 1) / plotMaxPoints)
	if factor < 1 {
		factor = 1
	}

	it, err := r.Read(start, end, 0)
	if err != nil {
		return nil, nil, err
	}
	var t0 float64
	var sumT, sumV, sumI float64
	var fill int
	first := true
	for it.Next() {
		si, err := r.RawToSI(it.Chunk())
		if err != nil {
			return nil, nil, err
		}
		for i := range si.Time {
			if first {
				t0 = si.Time[i]
				first = false
			}
			sumT += si.Time[i] - t0
			sumV += si.Voltage[i]
			sumI += si.Current[i]
			fill++
			if fill == factor {
				f := float64(fill)
				vs = append(vs, plotter.XY{X: sumT / f, Y: sumV / f})
				is = append(is, plotter.XY{X: sumT / f, Y: sumI / f})
				sumT, sumV, sumI, fill = 0, 0, 0, 0
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, nil, err
	}
	return vs, is, nil
}

// renderPanels draws three stacked, x-aligned panels: voltage, current and
// power over time.
func renderPanels(out, title string, vs, is plotter.XYs) error {
	ps := make(plotter.XYs, len(vs))
	for i := range vs {
		ps[i] = plotter.XY{X: vs[i].X, Y: vs[i].Y * is[i].Y}
	}

	panels := []struct {
		label string
		data  plotter.XYs
	}{
		{"voltage [V]", vs},
		{"current [A]", is},
		{"power [W]", ps},
	}
	plots := make([][]*plot.Plot, len(panels))
	for i, panel := range panels {
		p := plot.New()
		if i == 0 {
			p.Title.Text = title
		}
		if i == len(panels)-1 {
			p.X.Label.Text = "time [s]"
		}
		p.Y.Label.Text = panel.label
		line, err := plotter.NewLine(panel.data)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(plotter.NewGrid(), line)
		plots[i] = []*plot.Plot{p}
	}

	img := vgimg.New(20*vg.Centimeter, 15*vg.Centimeter)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: len(panels), Cols: 1, PadY: vg.Millimeter}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return err
	}
	return f.Close()
}

func init() {
	plotCmd.Flags().Float64Var(&flagPlotStart, "start", 0, "range start in seconds from the first sample")
	plotCmd.Flags().Float64Var(&flagPlotEnd, "end", 0, "range end in seconds (0 = end of file)")
	plotCmd.Flags().StringVarP(&flagPlotOut, "out", "o", "", "output path (default <file>.png)")
	plotCmd.Flags().BoolVarP(&flagPlotForce, "force", "f", false, "overwrite an existing output file")
	rootCmd.AddCommand(plotCmd)
}
