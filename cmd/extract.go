package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shpdata/internal/trace"
)

var flagExtractForce bool

var extractCmd = &cobra.Command{
	Use:   "extract <file-or-dir>",
	Short: "Export metadata and embedded logs next to each trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := traceFiles(args[0])
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := extractOne(f); err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
		}
		return nil
	},
}

func extractOne(path string) error {
	r, err := trace.Open(path, trace.WithLogger(log))
	if err != nil {
		return err
	}
	defer r.Close()

	dst, err := r.SaveMetadata("", flagExtractForce)
	if err != nil {
		return err
	}
	fmt.Printf("%s: wrote %s\n", path, dst)

	sources, err := r.LogSources()
	if err != nil {
		return err
	}
	for _, src := range sources {
		recs, err := r.Logs(src)
		if err != nil {
			return err
		}
		out := withSuffix(path, "."+src+".log")
		if _, err := os.Stat(out); err == nil && !flagExtractForce {
			return fmt.Errorf("write %s: %w", out, os.ErrExist)
		}
		var b strings.Builder
		for _, rec := range recs {
			fmt.Fprintf(&b, "%d\t%s\n", rec.TimeNs, rec.Message)
		}
		if err := os.WriteFile(out, []byte(b.String()), 0o644); err != nil {
			return err
		}
		fmt.Printf("%s: wrote %s (%d records)\n", path, out, len(recs))
	}
	return nil
}

func init() {
	extractCmd.Flags().BoolVarP(&flagExtractForce, "force", "f", false, "overwrite existing output files")
	rootCmd.AddCommand(extractCmd)
}
