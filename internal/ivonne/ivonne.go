// Package ivonne imports `.iv` recordings of an external solar-harvesting
// measurement tool: four text columns (time [s], short-circuit current [A],
// open-circuit voltage [V], one unused auxiliary) at a fixed 50 samples per
// second. The import is one-way; the tool's device calibration is
// approximated, not recovered.
package ivonne

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"shpdata/internal/trace"
)

// SampleRateSps is the fixed recording rate of the tool.
const SampleRateSps = 50

// kappa shapes the reconstructed diode curve: c = kappa / voc puts the
// model's knee at the measured open-circuit voltage.
const kappa = 5.0

// Reader holds one parsed recording in memory; files are minutes of data
// at 50 sps, so this stays small.
type Reader struct {
	Path string
	Time []float64 // seconds
	Isc  []float64 // amperes
	Voc  []float64 // volts

	// Progress, when set, is called once per converted record.
	Progress func(done, total int64)

	log *zap.SugaredLogger
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger routes the reader's log output. The default is a nop logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Reader) { r.log = log }
}

// Open parses an `.iv` file. A non-numeric first row is treated as a
// header and skipped.
func Open(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := &Reader{Path: path, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(r)
	}

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("parse %s: row %d has %d columns, want at least 3", path, i+1, len(row))
		}
		t, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("parse %s: row %d: %w", path, i+1, err)
		}
		isc, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: row %d: %w", path, i+1, err)
		}
		voc, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: row %d: %w", path, i+1, err)
		}
		r.Time = append(r.Time, t)
		r.Isc = append(r.Isc, isc)
		r.Voc = append(r.Voc, voc)
	}
	if len(r.Time) == 0 {
		return nil, fmt.Errorf("parse %s: no samples", path)
	}
	r.log.Infow("read recording",
		"path", path, "samples", len(r.Time),
		"runtime_s", float64(len(r.Time))/float64(SampleRateSps))
	return r, nil
}

// Len returns the number of records.
func (r *Reader) Len() int { return len(r.Time) }

// ConvertToISCVOC stores the recording directly as an isc_voc trace:
// voltage column carries voc, current column carries isc. The writer must
// be created with that datatype and the tool's sample rate.
func (r *Reader) ConvertToISCVOC(w *trace.Writer) error {
	ts := make([]int64, len(r.Time))
	for i, t := range r.Time {
		ts[i] = int64(t * 1e9)
	}
	if err := w.AppendSI(ts, r.Voc, r.Isc); err != nil {
		return err
	}
	if r.Progress != nil {
		r.Progress(int64(len(ts)), int64(len(ts)))
	}
	return nil
}

// ConvertToIVCurves reconstructs one full IV curve per record from a diode
// model fitted to (isc, voc) and writes them as an ivcurve trace with
// window_samples = points. The curve is i = a - b*(exp(c*v) - 1) with
// a = isc, c = kappa/voc and b chosen so the current reaches zero at voc;
// voltages sweep 0..vMax over the window.
func (r *Reader) ConvertToIVCurves(w *trace.Writer, points int, vMax float64) error {
	if points <= 0 {
		return fmt.Errorf("curve points %d: must be positive", points)
	}
	if vMax <= 0 {
		return fmt.Errorf("curve v_max %g: must be positive", vMax)
	}
	if err := w.SetWindowSamples(points); err != nil {
		return err
	}

	vProto := make([]float64, points)
	floats.Span(vProto, 0, vMax)
	interval := w.SampleIntervalNs()
	windowNs := int64(points) * interval

	iProto := make([]float64, points)
	ts := make([]int64, points)
	for rec := range r.Time {
		a := r.Isc[rec]
		voc := r.Voc[rec]
		var b, c float64
		if voc > 0 && a > 0 {
			c = kappa / voc
			b = a / (math.Exp(kappa) - 1)
		}
		for i, v := range vProto {
			cur := a
			if c > 0 {
				cur = a - b*(math.Exp(c*v)-1)
			}
			if cur < 0 {
				cur = 0
			}
			iProto[i] = cur
		}
		start := int64(rec) * windowNs
		for i := range ts {
			ts[i] = start + int64(i)*interval
		}
		if err := w.AppendSI(ts, vProto, iProto); err != nil {
			return err
		}
		if r.Progress != nil {
			r.Progress(int64(rec+1), int64(len(r.Time)))
		}
	}
	return nil
}
