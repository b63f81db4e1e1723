package trace

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"shpdata/internal/calibration"
	"shpdata/internal/codec"
	"shpdata/internal/container"
)

// Writer creates a new trace file and appends sample chunks to it. The
// embedded Reader serves every read-side operation while the Writer is
// open; reads reflect flushed chunks only.
type Writer struct {
	*Reader

	compression  codec.Compression
	pendTime     []int64
	pendVoltage  []uint32
	pendCurrent  []uint32
	appended     bool
	writerClosed bool
}

// Create makes a new trace file. It fails when the path exists and
// cfg.Overwrite is false, when the mode/datatype combination is unknown,
// or when the calibration is invalid.
func Create(path string, cfg Config, opts ...Option) (*Writer, error) {
	o := applyOptions(opts)

	if cfg.Mode == "" {
		cfg.Mode = ModeHarvester
	}
	if cfg.Datatype == "" {
		cfg.Datatype = DatatypeIVSample
	}
	if _, ok := modeDatatypes[cfg.Mode]; !ok {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrFormat, cfg.Mode)
	}
	if !modeAllows(cfg.Mode, cfg.Datatype) {
		return nil, fmt.Errorf("%w: mode %q cannot record datatype %q", ErrFormat, cfg.Mode, cfg.Datatype)
	}
	if cfg.WindowSamples < 0 {
		return nil, fmt.Errorf("%w: negative window_samples %d", ErrFormat, cfg.WindowSamples)
	}
	if cfg.SampleRateSps == 0 {
		cfg.SampleRateSps = DefaultSampleRateSps
	}
	if cfg.SampleRateSps < 0 {
		return nil, fmt.Errorf("%w: samplerate_sps %d is not positive", ErrFormat, cfg.SampleRateSps)
	}
	if cfg.ChunkSamples == 0 {
		cfg.ChunkSamples = DefaultChunkSamples
	}
	if cfg.ChunkSamples < 0 {
		return nil, fmt.Errorf("%w: chunk size %d is not positive", ErrFormat, cfg.ChunkSamples)
	}
	if cfg.Calibration.IsZero() {
		cfg.Calibration = calibration.Default()
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	comp, err := codec.Parse(string(cfg.Compression))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	c, err := container.Create(path, cfg.Overwrite)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		Reader:      &Reader{c: c, path: path, opts: o, log: o.log},
		compression: comp,
	}
	if err := w.initLayout(cfg, comp); err != nil {
		c.Close()
		os.Remove(path)
		return nil, err
	}
	if err := w.Reader.load(); err != nil {
		c.Close()
		return nil, err
	}
	o.log.Infow("created trace",
		"path", path, "mode", cfg.Mode, "datatype", cfg.Datatype,
		"samplerate_sps", cfg.SampleRateSps, "compression", comp)
	return w, nil
}

func (w *Writer) initLayout(cfg Config, comp codec.Compression) error {
	c := w.c
	hostname, _ := os.Hostname()
	rootAttrs := map[string]string{
		attrMode:     string(cfg.Mode),
		attrCreated:  time.Now().UTC().Format(time.RFC3339),
		attrFileID:   uuid.NewString(),
		attrHostname: hostname,
	}
	for key, value := range rootAttrs {
		if err := c.SetAttr(container.ScopeRoot, key, value); err != nil {
			return err
		}
	}
	if err := c.SetAttr(container.ScopeData, attrDatatype, string(cfg.Datatype)); err != nil {
		return err
	}
	if err := c.SetAttrInt(container.ScopeData, attrWindowSamples, int64(cfg.WindowSamples)); err != nil {
		return err
	}
	if err := c.SetAttrInt(container.ScopeData, attrSampleRate, int64(cfg.SampleRateSps)); err != nil {
		return err
	}

	columns := []struct {
		name, dtype, unit, description string
	}{
		{dsTimeName, container.DtypeI64, "ns", "system time [ns]"},
		{dsVoltageName, container.DtypeU32, "V", "voltage [V] = value * gain + offset"},
		{dsCurrentName, container.DtypeU32, "A", "current [A] = value * gain + offset"},
		{dsGpioTime, container.DtypeI64, "ns", "gpio event time [ns]"},
		{dsGpioValue, container.DtypeU32, "", "gpio pin state bitmask"},
	}
	for _, col := range columns {
		if _, err := c.CreateDataset(col.name, col.dtype, col.unit, col.description, cfg.ChunkSamples, comp); err != nil {
			return err
		}
	}
	if err := c.SetDatasetCal(dsVoltageName, cfg.Calibration.Voltage.Gain, cfg.Calibration.Voltage.Offset); err != nil {
		return err
	}
	return c.SetDatasetCal(dsCurrentName, cfg.Calibration.Current.Gain, cfg.Calibration.Current.Offset)
}

// AppendRaw appends one batch of raw samples. The three slices must have
// equal length; on mismatch nothing is written. Samples become visible to
// the read side in whole chunks.
func (w *Writer) AppendRaw(timeNs []int64, voltage, current []uint32) error {
	if w.writerClosed {
		return ErrClosed
	}
	if len(timeNs) != len(voltage) || len(voltage) != len(current) {
		return fmt.Errorf("append: time %d, voltage %d, current %d: %w",
			len(timeNs), len(voltage), len(current), ErrLengthMismatch)
	}
	if len(timeNs) == 0 {
		return nil
	}
	w.pendTime = append(w.pendTime, timeNs...)
	w.pendVoltage = append(w.pendVoltage, voltage...)
	w.pendCurrent = append(w.pendCurrent, current...)
	w.appended = true
	w.stats = nil
	return w.flush(false)
}

// AppendRawAt appends raw samples with generated timestamps, spaced at the
// nominal sample interval from startNs.
func (w *Writer) AppendRawAt(startNs int64, voltage, current []uint32) error {
	if len(voltage) != len(current) {
		return fmt.Errorf("append: voltage %d, current %d: %w",
			len(voltage), len(current), ErrLengthMismatch)
	}
	interval := w.SampleIntervalNs()
	ts := make([]int64, len(voltage))
	for i := range ts {
		ts[i] = startNs + int64(i)*interval
	}
	return w.AppendRaw(ts, voltage, current)
}

// AppendSI converts physical-unit samples through the file's calibration
// and appends them.
func (w *Writer) AppendSI(timeNs []int64, voltageSI, currentSI []float64) error {
	if len(timeNs) != len(voltageSI) || len(voltageSI) != len(currentSI) {
		return fmt.Errorf("append: time %d, voltage %d, current %d: %w",
			len(timeNs), len(voltageSI), len(currentSI), ErrLengthMismatch)
	}
	return w.AppendRaw(timeNs, w.cal.Voltage.SIToRaw(voltageSI), w.cal.Current.SIToRaw(currentSI))
}

// flush writes pending samples as whole chunks; with final it also writes
// the short trailing chunk.
func (w *Writer) flush(final bool) error {
	cs := w.chunkSamples
	for len(w.pendTime) >= cs || (final && len(w.pendTime) > 0) {
		n := cs
		if n > len(w.pendTime) {
			n = len(w.pendTime)
		}
		err := w.c.AppendColumns(
			container.Column{Dataset: dsTimeName, Raw: container.PackI64(w.pendTime[:n]), N: n},
			container.Column{Dataset: dsVoltageName, Raw: container.PackU32(w.pendVoltage[:n]), N: n},
			container.Column{Dataset: dsCurrentName, Raw: container.PackU32(w.pendCurrent[:n]), N: n},
		)
		if err != nil {
			return err
		}
		w.pendTime = w.pendTime[n:]
		w.pendVoltage = w.pendVoltage[n:]
		w.pendCurrent = w.pendCurrent[n:]
	}
	return nil
}

// AppendGpio records GPIO edge events. The auxiliary columns share the
// time base of the primary columns but are not chunk-aligned with them.
func (w *Writer) AppendGpio(timeNs []int64, values []uint32) error {
	if w.writerClosed {
		return ErrClosed
	}
	if len(timeNs) != len(values) {
		return fmt.Errorf("append gpio: time %d, value %d: %w", len(timeNs), len(values), ErrLengthMismatch)
	}
	if len(timeNs) == 0 {
		return nil
	}
	return w.c.AppendColumns(
		container.Column{Dataset: dsGpioTime, Raw: container.PackI64(timeNs), N: len(timeNs)},
		container.Column{Dataset: dsGpioValue, Raw: container.PackU32(values), N: len(values)},
	)
}

// AppendLog stores one auxiliary log record (sources such as "dmesg",
// "exceptions" or "uart").
func (w *Writer) AppendLog(source string, timeNs int64, message string) error {
	if w.writerClosed {
		return ErrClosed
	}
	return w.c.AppendLog(source, timeNs, message)
}

// SetConfig embeds a free-form configuration mapping as a YAML attribute,
// making the file self-describing. A window_samples entry is adopted into
// the root attribute of the same name.
func (w *Writer) SetConfig(cfg map[string]any) error {
	if w.writerClosed {
		return ErrClosed
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := w.c.SetAttr(container.ScopeData, attrConfig, string(out)); err != nil {
		return err
	}
	if ws, ok := cfg[attrWindowSamples]; ok {
		n, ok := ws.(int)
		if !ok {
			return fmt.Errorf("config window_samples: want int, got %T", ws)
		}
		return w.SetWindowSamples(n)
	}
	return nil
}

// SetWindowSamples updates the window size attribute. Once samples have
// been appended the window size is sealed, since changing it would
// reinterpret data already written.
func (w *Writer) SetWindowSamples(n int) error {
	if w.writerClosed {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("window_samples %d: must not be negative", n)
	}
	if w.appended {
		return fmt.Errorf("window_samples: %w", ErrSealed)
	}
	if err := w.c.SetAttrInt(container.ScopeData, attrWindowSamples, int64(n)); err != nil {
		return err
	}
	w.windowSamples = n
	return nil
}

// SetCalibration replaces the calibration pairs. Sealed after the first
// append for the same reason as SetWindowSamples.
func (w *Writer) SetCalibration(cal calibration.Calibration) error {
	if w.writerClosed {
		return ErrClosed
	}
	if err := cal.Validate(); err != nil {
		return err
	}
	if w.appended {
		return fmt.Errorf("calibration: %w", ErrSealed)
	}
	if err := w.c.SetDatasetCal(dsVoltageName, cal.Voltage.Gain, cal.Voltage.Offset); err != nil {
		return err
	}
	if err := w.c.SetDatasetCal(dsCurrentName, cal.Current.Gain, cal.Current.Offset); err != nil {
		return err
	}
	w.cal = cal
	return nil
}

// SetHostname records the capturing host. Legal at any time; it does not
// affect sample semantics.
func (w *Writer) SetHostname(name string) error {
	if w.writerClosed {
		return ErrClosed
	}
	return w.c.SetAttr(container.ScopeRoot, attrHostname, name)
}

// Close flushes buffered samples, writes the summary attributes exactly
// once and releases the handle. A second call is a no-op.
func (w *Writer) Close() error {
	if w.writerClosed {
		return nil
	}
	w.writerClosed = true

	if err := w.flush(true); err != nil {
		w.Reader.Close()
		return err
	}
	n, err := w.dsTime.Len()
	if err != nil {
		w.Reader.Close()
		return err
	}
	durationS := float64(n) / float64(w.sampleRate)
	if err := w.c.SetAttrInt(container.ScopeData, attrSamples, n); err != nil {
		w.Reader.Close()
		return err
	}
	if err := w.c.SetAttrFloat(container.ScopeData, attrDurationS, durationS); err != nil {
		w.Reader.Close()
		return err
	}
	w.log.Infow("closing trace", "path", w.path, "samples", n, "runtime_s", durationS)
	return w.Reader.Close()
}
