package trace

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Agg selects how a downsampling window is reduced.
type Agg string

const (
	// AggMean averages each window of samples.
	AggMean Agg = "mean"
	// AggMinMax preserves the signal envelope by emitting window minima
	// and maxima alternately.
	AggMinMax Agg = "minmax"
)

// ParseAgg maps a CLI string to an aggregation mode; "" picks AggMean.
func ParseAgg(s string) (Agg, error) {
	switch Agg(s) {
	case "":
		return AggMean, nil
	case AggMean, AggMinMax:
		return Agg(s), nil
	default:
		return "", fmt.Errorf("unknown aggregation %q", s)
	}
}

// window accumulates raw samples until a full downsampling window is seen.
type window struct {
	factor  int
	agg     Agg
	t0      int64
	vs, cs  []float64
	fill    int
	emitMax bool
}

func (w *window) push(t int64, v, c uint32) (int64, uint32, uint32, bool) {
	if w.fill == 0 {
		w.t0 = t
	}
	w.vs = append(w.vs, float64(v))
	w.cs = append(w.cs, float64(c))
	w.fill++
	if w.fill < w.factor {
		return 0, 0, 0, false
	}
	var ov, oc float64
	switch w.agg {
	case AggMinMax:
		if w.emitMax {
			ov, oc = floatsMax(w.vs), floatsMax(w.cs)
		} else {
			ov, oc = floatsMin(w.vs), floatsMin(w.cs)
		}
		w.emitMax = !w.emitMax
	default:
		ov, oc = stat.Mean(w.vs, nil), stat.Mean(w.cs, nil)
	}
	t0 := w.t0
	w.vs, w.cs = w.vs[:0], w.cs[:0]
	w.fill = 0
	return t0, uint32(math.Round(ov)), uint32(math.Round(oc)), true
}

func floatsMin(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func floatsMax(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// Downsample reduces the sample rate by an integer factor and appends the
// result to dst, which the caller creates with the scaled rate. Every full
// window of factor input samples yields exactly one output sample;
// trailing partial windows are dropped.
func (r *Reader) Downsample(dst *Writer, factor int, agg Agg) error {
	if factor < 1 {
		return fmt.Errorf("downsample factor %d: must be >= 1", factor)
	}
	it, err := r.Read(0, -1, 0)
	if err != nil {
		return err
	}
	total, err := r.Len()
	if err != nil {
		return err
	}

	win := &window{factor: factor, agg: agg}
	var done int64
	for it.Next() {
		ch := it.Chunk()
		if factor == 1 {
			if err := dst.AppendRaw(ch.Time, ch.Voltage, ch.Current); err != nil {
				return err
			}
		} else {
			out := Chunk{}
			for i := range ch.Time {
				if t, v, c, ok := win.push(ch.Time[i], ch.Voltage[i], ch.Current[i]); ok {
					out.Time = append(out.Time, t)
					out.Voltage = append(out.Voltage, v)
					out.Current = append(out.Current, c)
				}
			}
			if err := dst.AppendRaw(out.Time, out.Voltage, out.Current); err != nil {
				return err
			}
		}
		done += int64(ch.Len())
		if r.opts.progress != nil {
			r.opts.progress(done, total)
		}
	}
	return it.Err()
}

// Excerpt copies the sample index range [start, end) verbatim to dst,
// together with the GPIO events and log records inside the excerpt's time
// span.
func (r *Reader) Excerpt(dst *Writer, start, end int64) error {
	it, err := r.Read(start, end, 0)
	if err != nil {
		return err
	}
	var spanLo, spanHi int64 = math.MaxInt64, math.MinInt64
	var done, total int64
	total = end - start
	if total < 0 {
		total = 0
	}
	for it.Next() {
		ch := it.Chunk()
		if ch.Len() > 0 {
			if ch.Time[0] < spanLo {
				spanLo = ch.Time[0]
			}
			if last := ch.Time[ch.Len()-1]; last > spanHi {
				spanHi = last
			}
		}
		if err := dst.AppendRaw(ch.Time, ch.Voltage, ch.Current); err != nil {
			return err
		}
		done += int64(ch.Len())
		if r.opts.progress != nil {
			r.opts.progress(done, total)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if spanLo > spanHi {
		return nil
	}

	edges, err := r.GpioEdges()
	if err != nil {
		return err
	}
	var gts []int64
	var gvs []uint32
	for _, e := range edges {
		if e.TimeNs >= spanLo && e.TimeNs <= spanHi {
			gts = append(gts, e.TimeNs)
			gvs = append(gvs, e.Value)
		}
	}
	if len(gts) > 0 {
		if err := dst.AppendGpio(gts, gvs); err != nil {
			return err
		}
	}

	sources, err := r.LogSources()
	if err != nil {
		return err
	}
	for _, src := range sources {
		recs, err := r.Logs(src)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.TimeNs >= spanLo && rec.TimeNs <= spanHi {
				if err := dst.AppendLog(src, rec.TimeNs, rec.Message); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
