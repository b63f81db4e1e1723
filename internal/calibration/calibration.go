// Package calibration converts between raw fixed-point ADC counts and
// physical SI units. The mapping is affine: si = raw*gain + offset.
package calibration

import (
	"errors"
	"fmt"
	"math"
)

// ErrGain reports a non-positive gain, which would make the mapping
// non-invertible.
var ErrGain = errors.New("calibration gain must be positive")

// Pair is the gain/offset calibration of one physical quantity.
type Pair struct {
	Gain   float64 `yaml:"gain"`
	Offset float64 `yaml:"offset"`
}

// Validate checks the invariant gain > 0.
func (p Pair) Validate() error {
	if !(p.Gain > 0) || math.IsInf(p.Gain, 1) {
		return fmt.Errorf("%w (got %g)", ErrGain, p.Gain)
	}
	return nil
}

// RawValueToSI converts a single raw sample to its physical value.
func (p Pair) RawValueToSI(raw uint32) float64 {
	return float64(raw)*p.Gain + p.Offset
}

// SIValueToRaw converts a physical value to the nearest raw sample,
// clipping to the representable u32 range instead of overflowing.
// Negative physical values are legal input and clip to zero.
func (p Pair) SIValueToRaw(si float64) uint32 {
	raw := math.Round((si - p.Offset) / p.Gain)
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	if raw >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(raw)
}

// RawToSI converts a sequence of raw samples element-wise.
func (p Pair) RawToSI(raw []uint32) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = p.RawValueToSI(v)
	}
	return out
}

// SIToRaw converts a sequence of physical values element-wise.
func (p Pair) SIToRaw(si []float64) []uint32 {
	out := make([]uint32, len(si))
	for i, v := range si {
		out[i] = p.SIValueToRaw(v)
	}
	return out
}

// Calibration bundles the per-channel pairs of a trace file.
type Calibration struct {
	Voltage Pair `yaml:"voltage"`
	Current Pair `yaml:"current"`
}

// Default mirrors the recorder frontend: 0-12 V in 3 nV steps and
// 0-1 A in 250 pA steps, both without offset.
func Default() Calibration {
	return Calibration{
		Voltage: Pair{Gain: 3e-9},
		Current: Pair{Gain: 250e-12},
	}
}

// Validate checks both channel pairs.
func (c Calibration) Validate() error {
	if err := c.Voltage.Validate(); err != nil {
		return fmt.Errorf("voltage: %w", err)
	}
	if err := c.Current.Validate(); err != nil {
		return fmt.Errorf("current: %w", err)
	}
	return nil
}

// IsZero reports whether no calibration was supplied.
func (c Calibration) IsZero() bool {
	return c == Calibration{}
}
