package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"shpdata/internal/trace"
)

var (
	flagCutStart float64
	flagCutEnd   float64
	flagCutOut   string
	flagCutForce bool
)

var cutCmd = &cobra.Command{
	Use:   "cut <file>",
	Short: "Excerpt a time range into a new trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bar, progress := newBar("cutting")
		defer bar.Finish()

		r, err := trace.Open(args[0], trace.WithLogger(log), trace.WithProgress(progress))
		if err != nil {
			return err
		}
		defer r.Close()

		start, end, err := sampleRange(r, flagCutStart, flagCutEnd)
		if err != nil {
			return err
		}

		out := flagCutOut
		if out == "" {
			out = withSuffix(args[0], fmt.Sprintf(".cut_%gs_%gs%s", flagCutStart, flagCutEnd, traceExt))
		}
		w, err := trace.Create(out, trace.Config{
			Mode:          r.Mode(),
			Datatype:      r.Datatype(),
			WindowSamples: r.WindowSamples(),
			SampleRateSps: r.SampleRate(),
			Calibration:   r.Calibration(),
			Overwrite:     flagCutForce,
		}, trace.WithLogger(log))
		if err != nil {
			return err
		}
		if err := r.Excerpt(w, start, end); err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		fmt.Printf("%s: wrote %s\n", args[0], out)
		return nil
	},
}

// sampleRange maps a start/end offset in seconds (end <= 0 means the end of
// the file) to sample indices.
func sampleRange(r *trace.Reader, startS, endS float64) (int64, int64, error) {
	stats, err := r.Stats()
	if err != nil {
		return 0, 0, err
	}
	start, err := r.IndexAt(stats.StartNs + int64(startS*1e9))
	if err != nil {
		return 0, 0, err
	}
	end := stats.SampleCount
	if endS > 0 {
		end, err = r.IndexAt(stats.StartNs + int64(endS*1e9))
		if err != nil {
			return 0, 0, err
		}
	}
	if start >= end {
		return 0, 0, fmt.Errorf("empty range [%gs, %gs)", startS, endS)
	}
	return start, end, nil
}

func init() {
	cutCmd.Flags().Float64Var(&flagCutStart, "start", 0, "range start in seconds from the first sample")
	cutCmd.Flags().Float64Var(&flagCutEnd, "end", 0, "range end in seconds (0 = end of file)")
	cutCmd.Flags().StringVarP(&flagCutOut, "out", "o", "", "output path")
	cutCmd.Flags().BoolVarP(&flagCutForce, "force", "f", false, "overwrite an existing output file")
	rootCmd.AddCommand(cutCmd)
}
