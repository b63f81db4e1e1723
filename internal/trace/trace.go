// Package trace reads and writes recorded energy-harvesting traces: three
// synchronized columns (time, voltage, current) stored as fixed-point
// integers with affine calibration, plus auxiliary GPIO and log datasets.
package trace

import (
	"go.uber.org/zap"

	"shpdata/internal/calibration"
	"shpdata/internal/codec"
)

// Mode tells harvesting recordings apart from emulation recordings.
type Mode string

const (
	ModeHarvester Mode = "harvester"
	ModeEmulator  Mode = "emulator"
)

// Datatype describes what one sample of the primary columns means.
type Datatype string

const (
	// DatatypeIVSample is a directly usable (voltage, current) pair.
	DatatypeIVSample Datatype = "ivsample"
	// DatatypeIVCurve is a full voltage sweep per window of samples.
	DatatypeIVCurve Datatype = "ivcurve"
	// DatatypeISCVOC is a short-circuit-current / open-circuit-voltage pair.
	DatatypeISCVOC Datatype = "isc_voc"
)

// modeDatatypes lists the datatypes each mode may record.
var modeDatatypes = map[Mode][]Datatype{
	ModeHarvester: {DatatypeIVSample, DatatypeIVCurve, DatatypeISCVOC},
	ModeEmulator:  {DatatypeIVSample},
}

func modeAllows(m Mode, d Datatype) bool {
	for _, dt := range modeDatatypes[m] {
		if dt == d {
			return true
		}
	}
	return false
}

// Defaults matching the recorder hardware.
const (
	DefaultSampleRateSps = 100_000
	DefaultChunkSamples  = 10_000
)

// Attribute keys and dataset names of the container layout.
const (
	attrMode          = "mode"
	attrCreated       = "created"
	attrFileID        = "file_id"
	attrHostname      = "hostname"
	attrDatatype      = "datatype"
	attrWindowSamples = "window_samples"
	attrSampleRate    = "samplerate_sps"
	attrConfig        = "config"
	attrSamples       = "samples"
	attrDurationS     = "duration_s"

	dsTimeName    = "time"
	dsVoltageName = "voltage"
	dsCurrentName = "current"
	dsGpioTime    = "gpio_time"
	dsGpioValue   = "gpio_value"
)

// Chunk is one contiguous run of raw samples, the unit of I/O.
type Chunk struct {
	Time    []int64 // nanoseconds
	Voltage []uint32
	Current []uint32
}

// Len returns the number of samples in the chunk.
func (ch Chunk) Len() int { return len(ch.Time) }

// SIChunk is a chunk converted to physical units.
type SIChunk struct {
	Time    []float64 // seconds
	Voltage []float64 // volts
	Current []float64 // amperes
}

// Len returns the number of samples in the chunk.
func (ch SIChunk) Len() int { return len(ch.Time) }

type options struct {
	strict   bool
	log      *zap.SugaredLogger
	progress func(done, total int64)
}

// Option configures a Reader or Writer.
type Option func(*options)

// Strict upgrades integrity findings and out-of-range reads from warnings
// to errors.
func Strict() Option {
	return func(o *options) { o.strict = true }
}

// WithLogger routes the handle's log output. The default is a nop logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// WithProgress installs a callback invoked per processed chunk by the bulk
// operations (Downsample, Excerpt, Energy).
func WithProgress(fn func(done, total int64)) Option {
	return func(o *options) { o.progress = fn }
}

func applyOptions(opts []Option) options {
	o := options{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	return o
}

// Config holds the fixed parameters of a new trace file.
type Config struct {
	Mode          Mode
	Datatype      Datatype
	WindowSamples int
	SampleRateSps int
	Calibration   calibration.Calibration
	Compression   codec.Compression
	ChunkSamples  int
	Overwrite     bool
}
