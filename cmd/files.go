package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// traceExt is the suffix of native trace files.
const traceExt = ".shp"

// traceFiles resolves a path argument to a list of trace files: the file
// itself, or every *.shp below a directory. Hidden directories are skipped.
func traceFiles(arg string) ([]string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{arg}, nil
	}

	var out []string
	err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if d.IsDir() {
			if path != arg && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if filepath.Ext(path) == traceExt {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no %s files under %s", traceExt, arg)
	}
	return out, nil
}

// withSuffix derives an output path by replacing the trace extension.
func withSuffix(path, suffix string) string {
	return strings.TrimSuffix(path, traceExt) + suffix
}

// newBar builds a progress bar for long per-file loops; total may be
// corrected later through the returned callback.
func newBar(desc string) (*progressbar.ProgressBar, func(done, total int64)) {
	bar := progressbar.NewOptions64(1,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return bar, func(done, total int64) {
		if total > 0 {
			bar.ChangeMax64(total)
		}
		bar.Set64(done)
	}
}
