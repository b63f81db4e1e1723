package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"shpdata/internal/trace"
)

var flagStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate <file-or-dir>",
	Short: "Check traces for structural and timing problems",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := traceFiles(args[0])
		if err != nil {
			return err
		}

		var broken int
		for _, f := range files {
			findings, err := validateOne(f)
			if err != nil {
				fmt.Printf("%s: ERROR %v\n", f, err)
				broken++
				continue
			}
			if len(findings) == 0 {
				fmt.Printf("%s: ok\n", f)
				continue
			}
			for _, finding := range findings {
				fmt.Printf("%s: %s\n", f, finding)
			}
			if flagStrict {
				broken++
			}
		}
		if broken > 0 {
			return fmt.Errorf("%d of %d files failed validation", broken, len(files))
		}
		return nil
	},
}

func validateOne(path string) ([]string, error) {
	r, err := trace.Open(path, trace.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var findings []string
	if ok, fs := r.IsValid(); !ok {
		findings = append(findings, fs...)
	}
	if ok, fs := r.CheckTimeDiffs(); !ok {
		findings = append(findings, fs...)
	}
	return findings, nil
}

func init() {
	validateCmd.Flags().BoolVar(&flagStrict, "strict", false, "exit non-zero on any finding")
	rootCmd.AddCommand(validateCmd)
}
