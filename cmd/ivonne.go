package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"shpdata/internal/ivonne"
	"shpdata/internal/trace"
)

var (
	flagIvOut    string
	flagIvCurves bool
	flagIvPoints int
	flagIvVMax   float64
	flagIvForce  bool
)

var ivonneCmd = &cobra.Command{
	Use:   "ivonne <file.iv>",
	Short: "Import an external solar-recorder file as a native trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bar, progress := newBar("importing")
		defer bar.Finish()

		r, err := ivonne.Open(args[0], ivonne.WithLogger(log))
		if err != nil {
			return err
		}
		r.Progress = progress

		out := flagIvOut
		if out == "" {
			out = args[0] + traceExt
		}

		cfg := trace.Config{
			Mode:          trace.ModeHarvester,
			Datatype:      trace.DatatypeISCVOC,
			SampleRateSps: ivonne.SampleRateSps,
			Overwrite:     flagIvForce,
		}
		if flagIvCurves {
			cfg.Datatype = trace.DatatypeIVCurve
			cfg.SampleRateSps = 0 // recorder default
		}
		w, err := trace.Create(out, cfg, trace.WithLogger(log))
		if err != nil {
			return err
		}

		if flagIvCurves {
			err = r.ConvertToIVCurves(w, flagIvPoints, flagIvVMax)
		} else {
			err = r.ConvertToISCVOC(w)
		}
		if err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		fmt.Printf("%s: wrote %s (%d records)\n", args[0], out, r.Len())
		return nil
	},
}

func init() {
	ivonneCmd.Flags().StringVarP(&flagIvOut, "out", "o", "", "output path (default <file.iv>.shp)")
	ivonneCmd.Flags().BoolVar(&flagIvCurves, "curves", false, "reconstruct full IV curves instead of isc/voc pairs")
	ivonneCmd.Flags().IntVar(&flagIvPoints, "points", 1000, "samples per reconstructed curve")
	ivonneCmd.Flags().Float64Var(&flagIvVMax, "v-max", 5.0, "maximum curve voltage")
	ivonneCmd.Flags().BoolVarP(&flagIvForce, "force", "f", false, "overwrite an existing output file")
	rootCmd.AddCommand(ivonneCmd)
}
