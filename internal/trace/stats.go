package trace

import (
	"fmt"
	"os"
	"time"

	"gonum.org/v1/gonum/integrate"
)

// FileStats are derived metrics of an open trace. They are computed on
// demand, cached for the handle's lifetime and invalidated on append.
type FileStats struct {
	SampleCount int64
	StartNs     int64
	EndNs       int64
	Duration    time.Duration
	FileSize    int64
	DataRate    float64 // bytes per second of recording
	Energy      float64 // joules over the full duration
}

// Stats computes (or returns the cached) derived statistics of the file.
func (r *Reader) Stats() (FileStats, error) {
	if r.closed {
		return FileStats{}, ErrClosed
	}
	if r.stats != nil {
		return *r.stats, nil
	}

	var s FileStats
	n, err := r.dsTime.Len()
	if err != nil {
		return FileStats{}, err
	}
	s.SampleCount = n
	if n > 0 {
		first, err := r.dsTime.I64Range(0, 1)
		if err != nil {
			return FileStats{}, err
		}
		last, err := r.dsTime.I64Range(n-1, n)
		if err != nil {
			return FileStats{}, err
		}
		s.StartNs = first[0]
		s.EndNs = last[0]
		dur := s.EndNs - s.StartNs + r.SampleIntervalNs()
		if dur < 0 {
			// Broken timestamps; fall back to the nominal rate.
			dur = n * r.SampleIntervalNs()
		}
		s.Duration = time.Duration(dur)
	}
	if fi, err := os.Stat(r.path); err == nil {
		s.FileSize = fi.Size()
	}
	if sec := s.Duration.Seconds(); sec > 0 {
		s.DataRate = float64(s.FileSize) / sec
	}
	s.Energy, err = r.computeEnergy()
	if err != nil {
		return FileStats{}, err
	}

	r.stats = &s
	return s, nil
}

// Energy integrates instantaneous power over the full recording.
func (r *Reader) Energy() (float64, error) {
	s, err := r.Stats()
	if err != nil {
		return 0, err
	}
	return s.Energy, nil
}

func (r *Reader) computeEnergy() (float64, error) {
	if r.datatype == DatatypeIVCurve {
		return r.curveEnergy()
	}
	return r.sampleEnergy()
}

// sampleEnergy integrates p = v*i with the trapezoidal rule over the
// recorded timestamps. Chunks with broken (non-increasing) timestamps fall
// back to rectangle summation at the nominal sample interval, and the last
// sample always contributes one nominal interval.
func (r *Reader) sampleEnergy() (float64, error) {
	it, err := r.Read(0, -1, 0)
	if err != nil {
		return 0, err
	}
	total, err := r.Len()
	if err != nil {
		return 0, err
	}

	intervalS := float64(r.SampleIntervalNs()) * 1e-9
	var energy float64
	var prevT, prevP float64
	var have bool
	var done int64
	for it.Next() {
		si, err := r.RawToSI(it.Chunk())
		if err != nil {
			return 0, err
		}
		ps := make([]float64, si.Len())
		for i := range ps {
			ps[i] = si.Voltage[i] * si.Current[i]
		}
		if have && si.Len() > 0 {
			// Bridge the chunk boundary.
			dt := si.Time[0] - prevT
			if dt <= 0 {
				dt = intervalS
			}
			energy += 0.5 * (prevP + ps[0]) * dt
		}
		if monotonic(si.Time) {
			energy += integrate.Trapezoidal(si.Time, ps)
		} else {
			for i := 1; i < len(ps); i++ {
				dt := si.Time[i] - si.Time[i-1]
				if dt <= 0 {
					dt = intervalS
				}
				energy += 0.5 * (ps[i-1] + ps[i]) * dt
			}
		}
		if si.Len() > 0 {
			prevT = si.Time[si.Len()-1]
			prevP = ps[len(ps)-1]
			have = true
		}
		done += int64(si.Len())
		if r.opts.progress != nil {
			r.opts.progress(done, total)
		}
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	if have {
		// The final sample still spans one nominal interval.
		energy += prevP * intervalS
	}
	return energy, nil
}

// curveEnergy integrates the per-window maximum power point of ivcurve
// files: the upper bound an ideal tracker would harvest.
func (r *Reader) curveEnergy() (float64, error) {
	if r.windowSamples <= 0 {
		return 0, fmt.Errorf("%w: ivcurve without window_samples", ErrFormat)
	}
	it, err := r.Read(0, -1, 0)
	if err != nil {
		return 0, err
	}
	total, err := r.Len()
	if err != nil {
		return 0, err
	}

	windowS := float64(int64(r.windowSamples)*r.SampleIntervalNs()) * 1e-9
	var energy float64
	var maxP float64
	var fill int
	var done int64
	for it.Next() {
		si, err := r.RawToSI(it.Chunk())
		if err != nil {
			return 0, err
		}
		for i := range si.Time {
			if p := si.Voltage[i] * si.Current[i]; p > maxP {
				maxP = p
			}
			fill++
			if fill == r.windowSamples {
				energy += maxP * windowS
				maxP, fill = 0, 0
			}
		}
		done += int64(si.Len())
		if r.opts.progress != nil {
			r.opts.progress(done, total)
		}
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	if fill > 0 {
		// Partial trailing window, scaled to its actual span.
		energy += maxP * windowS * float64(fill) / float64(r.windowSamples)
	}
	return energy, nil
}

func monotonic(ts []float64) bool {
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			return false
		}
	}
	return true
}
