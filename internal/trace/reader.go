package trace

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"shpdata/internal/calibration"
	"shpdata/internal/container"
	"shpdata/internal/waveform"
)

// FallbackBaudrate is used when UART baud detection fails.
const FallbackBaudrate = 115_200

// Reader streams samples out of a trace file. It owns the file handle
// exclusively from Open until Close; Close is safe to call twice.
type Reader struct {
	c    *container.Container
	path string
	opts options
	log  *zap.SugaredLogger

	mode          Mode
	datatype      Datatype
	windowSamples int
	sampleRate    int
	chunkSamples  int
	cal           calibration.Calibration

	dsTime    *container.Dataset
	dsVoltage *container.Dataset
	dsCurrent *container.Dataset

	stats  *FileStats
	closed bool
}

// Open opens a trace file read-only. Missing or malformed structure fails
// with ErrFormat; integrity findings are logged as warnings unless the
// Strict option makes them fatal.
func Open(path string, opts ...Option) (*Reader, error) {
	o := applyOptions(opts)
	c, err := container.Open(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	r := &Reader{c: c, path: path, opts: o, log: o.log}
	if err := r.load(); err != nil {
		c.Close()
		return nil, err
	}
	if ok, findings := r.IsValid(); !ok {
		if o.strict {
			c.Close()
			return nil, fmt.Errorf("%w: %s", ErrIntegrity, strings.Join(findings, "; "))
		}
		for _, f := range findings {
			r.log.Warnw("integrity finding", "path", path, "finding", f)
		}
	}
	n, _ := r.dsTime.Len()
	r.log.Infow("opened trace",
		"path", path, "mode", r.mode, "datatype", r.datatype,
		"samples", n, "runtime_s", float64(n)/float64(r.sampleRate))
	return r, nil
}

// load pulls the attribute/dataset structure out of the container. Any
// failure here means the file is not usable as a trace.
func (r *Reader) load() error {
	mode, err := r.c.Attr(container.ScopeRoot, attrMode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	r.mode = Mode(mode)
	if _, ok := modeDatatypes[r.mode]; !ok {
		return fmt.Errorf("%w: unknown mode %q", ErrFormat, mode)
	}

	datatype, err := r.c.Attr(container.ScopeData, attrDatatype)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	r.datatype = Datatype(datatype)

	window, err := r.c.AttrInt(container.ScopeData, attrWindowSamples)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if window < 0 {
		return fmt.Errorf("%w: negative window_samples %d", ErrFormat, window)
	}
	r.windowSamples = int(window)

	rate, err := r.c.AttrInt(container.ScopeData, attrSampleRate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if rate <= 0 {
		return fmt.Errorf("%w: samplerate_sps %d is not positive", ErrFormat, rate)
	}
	r.sampleRate = int(rate)

	for _, load := range []struct {
		name string
		dst  **container.Dataset
	}{
		{dsTimeName, &r.dsTime},
		{dsVoltageName, &r.dsVoltage},
		{dsCurrentName, &r.dsCurrent},
	} {
		ds, err := r.c.Dataset(load.name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		*load.dst = ds
	}

	r.cal = calibration.Calibration{
		Voltage: calibration.Pair{Gain: r.dsVoltage.Gain, Offset: r.dsVoltage.Offset},
		Current: calibration.Pair{Gain: r.dsCurrent.Gain, Offset: r.dsCurrent.Offset},
	}
	if err := r.cal.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	r.chunkSamples = r.dsTime.ChunkSamples
	if r.chunkSamples <= 0 {
		return fmt.Errorf("%w: chunk size %d is not positive", ErrFormat, r.chunkSamples)
	}
	return nil
}

// Close releases the file handle. A second call is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.c.Close()
}

// Accessors for the fixed file attributes.
func (r *Reader) Path() string                         { return r.path }
func (r *Reader) Mode() Mode                           { return r.mode }
func (r *Reader) Datatype() Datatype                   { return r.datatype }
func (r *Reader) WindowSamples() int                   { return r.windowSamples }
func (r *Reader) SampleRate() int                      { return r.sampleRate }
func (r *Reader) ChunkSamples() int                    { return r.chunkSamples }
func (r *Reader) Calibration() calibration.Calibration { return r.cal }

// SampleIntervalNs is the nominal spacing between samples.
func (r *Reader) SampleIntervalNs() int64 {
	return int64(1_000_000_000 / r.sampleRate)
}

// Len returns the current sample count of the primary columns.
func (r *Reader) Len() (int64, error) {
	if r.closed {
		return 0, ErrClosed
	}
	return r.dsTime.Len()
}

// IsValid runs structural plausibility checks and returns the verdict plus
// human-readable findings. It never fails; problems reading the file
// become findings themselves.
func (r *Reader) IsValid() (bool, []string) {
	var findings []string
	if r.closed {
		return false, []string{"handle is closed"}
	}

	nt, err := r.dsTime.Len()
	if err != nil {
		return false, []string{fmt.Sprintf("reading time column: %v", err)}
	}
	for _, ds := range []*container.Dataset{r.dsVoltage, r.dsCurrent} {
		n, err := ds.Len()
		if err != nil {
			findings = append(findings, fmt.Sprintf("reading %s column: %v", ds.Name, err))
			continue
		}
		if n != nt {
			findings = append(findings,
				fmt.Sprintf("dataset %s has %d samples, time has %d", ds.Name, n, nt))
		}
	}

	if !modeAllows(r.mode, r.datatype) {
		findings = append(findings,
			fmt.Sprintf("datatype %q is not recorded in mode %q", r.datatype, r.mode))
	}
	if r.datatype == DatatypeIVCurve && r.windowSamples == 0 {
		findings = append(findings, "datatype ivcurve requires window_samples > 0")
	}

	// Timestamps must never jump backward; scan chunkwise.
	const maxTimeFindings = 10
	var prev int64 = -1 << 62
	var reported int
	for pos := int64(0); pos < nt && reported <= maxTimeFindings; pos += int64(r.chunkSamples) {
		hi := pos + int64(r.chunkSamples)
		if hi > nt {
			hi = nt
		}
		ts, err := r.dsTime.I64Range(pos, hi)
		if err != nil {
			findings = append(findings, fmt.Sprintf("reading time column at %d: %v", pos, err))
			break
		}
		for i, t := range ts {
			if t < prev {
				reported++
				if reported > maxTimeFindings {
					findings = append(findings, "further backward time jumps suppressed")
					break
				}
				findings = append(findings, fmt.Sprintf(
					"backward time jump at sample %d (%d ns -> %d ns)", pos+int64(i), prev, t))
			}
			prev = t
		}
	}

	return len(findings) == 0, findings
}

// CheckTimeDiffs verifies that inter-sample gaps match the nominal sample
// interval and reports deviating regions.
func (r *Reader) CheckTimeDiffs() (bool, []string) {
	if r.closed {
		return false, []string{"handle is closed"}
	}
	nt, err := r.dsTime.Len()
	if err != nil {
		return false, []string{fmt.Sprintf("reading time column: %v", err)}
	}
	interval := r.SampleIntervalNs()
	step := int64(r.chunkSamples)
	if r.datatype == DatatypeIVCurve && r.windowSamples > 0 {
		// Curves restart their time base per window.
		step = int64(r.windowSamples)
	}

	const maxFindings = 10
	var findings []string
	var prev int64 = -1
	for pos := int64(0); pos < nt && len(findings) <= maxFindings; pos += int64(r.chunkSamples) {
		hi := pos + int64(r.chunkSamples)
		if hi > nt {
			hi = nt
		}
		ts, err := r.dsTime.I64Range(pos, hi)
		if err != nil {
			findings = append(findings, fmt.Sprintf("reading time column at %d: %v", pos, err))
			break
		}
		for i, t := range ts {
			idx := pos + int64(i)
			if prev >= 0 && idx%step != 0 {
				if d := t - prev; d != interval {
					if len(findings) == maxFindings {
						findings = append(findings, "further gap findings suppressed")
						break
					}
					findings = append(findings, fmt.Sprintf(
						"gap of %d ns at sample %d (nominal %d ns)", d, idx, interval))
				}
			}
			prev = t
		}
	}
	return len(findings) == 0, findings
}

// ChunkIter is a pull-based, finite iterator over sample chunks. It is
// restartable by calling Read again; two iterators over one handle must
// not be interleaved.
type ChunkIter struct {
	r            *Reader
	pos, end     int64
	chunkSamples int64
	cur          Chunk
	err          error
}

// Read returns an iterator over the sample index range [start, end).
// end < 0 means the end of the file, chunkSamples <= 0 the file's stored
// chunk size. Requests outside the extent clamp to an empty iterator, or
// fail with ErrRange when the handle was opened Strict.
func (r *Reader) Read(start, end int64, chunkSamples int) (*ChunkIter, error) {
	if r.closed {
		return nil, ErrClosed
	}
	n, err := r.dsTime.Len()
	if err != nil {
		return nil, err
	}
	if end < 0 {
		end = n
	}
	if r.opts.strict && (start < 0 || start > n || end > n || start > end) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d samples", ErrRange, start, end, n)
	}
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end {
		start = end
	}
	cs := int64(chunkSamples)
	if cs <= 0 {
		cs = int64(r.chunkSamples)
	}
	return &ChunkIter{r: r, pos: start, end: end, chunkSamples: cs}, nil
}

// Next advances to the following chunk. It returns false at the end of the
// range or on error; check Err afterwards.
func (it *ChunkIter) Next() bool {
	if it.err != nil || it.pos >= it.end {
		return false
	}
	hi := it.pos + it.chunkSamples
	if hi > it.end {
		hi = it.end
	}
	ts, err := it.r.dsTime.I64Range(it.pos, hi)
	if err != nil {
		it.err = err
		return false
	}
	vs, err := it.r.dsVoltage.U32Range(it.pos, hi)
	if err != nil {
		it.err = err
		return false
	}
	cs, err := it.r.dsCurrent.U32Range(it.pos, hi)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = Chunk{Time: ts, Voltage: vs, Current: cs}
	it.pos = hi
	return true
}

// Chunk returns the current chunk.
func (it *ChunkIter) Chunk() Chunk { return it.cur }

// Err returns the first error hit during iteration.
func (it *ChunkIter) Err() error { return it.err }

// RawToSI converts a raw chunk to physical units using the file's stored
// calibration.
func (r *Reader) RawToSI(ch Chunk) (SIChunk, error) {
	if len(ch.Voltage) != len(ch.Current) || len(ch.Time) != len(ch.Voltage) {
		return SIChunk{}, fmt.Errorf("%w: time %d, voltage %d, current %d",
			ErrLengthMismatch, len(ch.Time), len(ch.Voltage), len(ch.Current))
	}
	out := SIChunk{
		Time:    make([]float64, len(ch.Time)),
		Voltage: r.cal.Voltage.RawToSI(ch.Voltage),
		Current: r.cal.Current.RawToSI(ch.Current),
	}
	for i, t := range ch.Time {
		out.Time[i] = float64(t) * 1e-9
	}
	return out, nil
}

// SIToRaw converts a physical-unit chunk back to raw values.
func (r *Reader) SIToRaw(ch SIChunk) (Chunk, error) {
	if len(ch.Voltage) != len(ch.Current) || len(ch.Time) != len(ch.Voltage) {
		return Chunk{}, fmt.Errorf("%w: time %d, voltage %d, current %d",
			ErrLengthMismatch, len(ch.Time), len(ch.Voltage), len(ch.Current))
	}
	out := Chunk{
		Time:    make([]int64, len(ch.Time)),
		Voltage: r.cal.Voltage.SIToRaw(ch.Voltage),
		Current: r.cal.Current.SIToRaw(ch.Current),
	}
	for i, t := range ch.Time {
		out.Time[i] = int64(t * 1e9)
	}
	return out, nil
}

// IndexAt returns the index of the first sample at or after the given
// time, using binary search over the time column.
func (r *Reader) IndexAt(timeNs int64) (int64, error) {
	if r.closed {
		return 0, ErrClosed
	}
	n, err := r.dsTime.Len()
	if err != nil {
		return 0, err
	}
	lo, hi := int64(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		ts, err := r.dsTime.I64Range(mid, mid+1)
		if err != nil {
			return 0, err
		}
		if len(ts) == 1 && ts[0] < timeNs {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// GpioEdges loads the GPIO event datasets. Files without GPIO data yield
// an empty slice.
func (r *Reader) GpioEdges() ([]waveform.Edge, error) {
	if r.closed {
		return nil, ErrClosed
	}
	dsT, err := r.c.Dataset(dsGpioTime)
	if errors.Is(err, container.ErrNoDataset) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dsV, err := r.c.Dataset(dsGpioValue)
	if err != nil {
		return nil, err
	}
	ts, err := dsT.I64All()
	if err != nil {
		return nil, err
	}
	vs, err := dsV.U32All()
	if err != nil {
		return nil, err
	}
	if len(ts) != len(vs) {
		return nil, fmt.Errorf("%w: gpio_time %d, gpio_value %d", ErrLengthMismatch, len(ts), len(vs))
	}
	edges := make([]waveform.Edge, len(ts))
	for i := range ts {
		edges[i] = waveform.Edge{TimeNs: ts[i], Value: vs[i]}
	}
	return edges, nil
}

// GpioToWaveforms reconstructs per-pin digital waveforms from the GPIO log.
func (r *Reader) GpioToWaveforms() (map[int][]waveform.Level, error) {
	edges, err := r.GpioEdges()
	if err != nil {
		return nil, err
	}
	return waveform.Split(edges), nil
}

// GpioToUart decodes UART traffic from the busiest GPIO pin. A baudrate
// <= 0 requests auto-detection; when detection fails the fallback default
// is used and logged.
func (r *Reader) GpioToUart(baudrate int) ([]waveform.Byte, error) {
	waves, err := r.GpioToWaveforms()
	if err != nil {
		return nil, err
	}
	if len(waves) == 0 {
		return nil, nil
	}
	var levels []waveform.Level
	for _, pin := range waveform.Pins(waves) {
		if len(waves[pin]) > len(levels) {
			levels = waves[pin]
		}
	}
	if baudrate <= 0 {
		baudrate, err = waveform.DetectBaudrate(levels)
		if err != nil {
			r.log.Warnw("baudrate detection failed, using fallback",
				"err", err, "baudrate", FallbackBaudrate)
			baudrate = FallbackBaudrate
		} else {
			r.log.Infow("detected baudrate", "baudrate", baudrate)
		}
	}
	return waveform.DecodeUART(levels, baudrate, 8)
}

// Logs returns the records of one auxiliary log source.
func (r *Reader) Logs(source string) ([]container.LogRecord, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.c.Logs(source)
}

// LogSources lists the log sources present in the file.
func (r *Reader) LogSources() ([]string, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.c.LogSources()
}
