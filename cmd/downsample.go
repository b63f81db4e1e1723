package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"shpdata/internal/trace"
)

var (
	flagDsFactor int
	flagDsAgg    string
	flagDsOut    string
	flagDsForce  bool
)

var downsampleCmd = &cobra.Command{
	Use:   "downsample <file-or-dir>",
	Short: "Reduce the sample rate by an integer factor",
	Long: "Reduce the sample rate by an integer factor. Without --factor a ladder\n" +
		"of x5 steps (x5, x25, x125, ...) is produced while the output still\n" +
		"holds more than one second of samples.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agg, err := trace.ParseAgg(flagDsAgg)
		if err != nil {
			return err
		}
		files, err := traceFiles(args[0])
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := downsampleOne(f, agg); err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
		}
		return nil
	},
}

func downsampleOne(path string, agg trace.Agg) error {
	bar, progress := newBar("downsampling")
	defer bar.Finish()

	r, err := trace.Open(path, trace.WithLogger(log), trace.WithProgress(progress))
	if err != nil {
		return err
	}
	defer r.Close()
	if r.Datatype() != trace.DatatypeIVSample {
		return fmt.Errorf("datatype %q cannot be downsampled", r.Datatype())
	}

	factors := []int{flagDsFactor}
	if flagDsFactor == 0 {
		n, err := r.Len()
		if err != nil {
			return err
		}
		factors = nil
		// Stop once the output would hold less than a second of samples.
		for _, f := range []int{5, 25, 100, 500, 2_500, 10_000, 50_000, 250_000, 1_000_000} {
			if n/int64(f) < int64(r.SampleRate()) {
				break
			}
			factors = append(factors, f)
		}
	}

	for _, factor := range factors {
		out := flagDsOut
		if out == "" || len(factors) > 1 {
			out = withSuffix(path, fmt.Sprintf(".downsampled_x%d%s", factor, traceExt))
		}
		rate := r.SampleRate() / factor
		if rate < 1 {
			rate = 1
		}
		w, err := trace.Create(out, trace.Config{
			Mode:          r.Mode(),
			Datatype:      r.Datatype(),
			SampleRateSps: rate,
			Calibration:   r.Calibration(),
			Overwrite:     flagDsForce,
		}, trace.WithLogger(log))
		if err != nil {
			return err
		}
		if err := r.Downsample(w, factor, agg); err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		fmt.Printf("%s: wrote %s\n", path, out)
	}
	return nil
}

func init() {
	downsampleCmd.Flags().IntVar(&flagDsFactor, "factor", 0, "downsampling factor (0 = x5 ladder)")
	downsampleCmd.Flags().StringVar(&flagDsAgg, "agg", "mean", "window aggregation (mean|minmax)")
	downsampleCmd.Flags().StringVarP(&flagDsOut, "out", "o", "", "output path (single factor only)")
	downsampleCmd.Flags().BoolVarP(&flagDsForce, "force", "f", false, "overwrite existing output files")
	rootCmd.AddCommand(downsampleCmd)
}
