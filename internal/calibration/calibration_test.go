package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairValidate(t *testing.T) {
	assert.NoError(t, Pair{Gain: 1e-9}.Validate())
	assert.ErrorIs(t, Pair{Gain: 0}.Validate(), ErrGain)
	assert.ErrorIs(t, Pair{Gain: -1}.Validate(), ErrGain)
	assert.ErrorIs(t, Pair{Gain: math.NaN()}.Validate(), ErrGain)
	assert.ErrorIs(t, Pair{Gain: math.Inf(1)}.Validate(), ErrGain)
}

func TestRoundTripWithinOneStep(t *testing.T) {
	p := Pair{Gain: 3e-9, Offset: -1.5e-6}
	for _, si := range []float64{0, 1e-6, 3.3, 11.9} {
		raw := p.SIValueToRaw(si)
		back := p.RawValueToSI(raw)
		assert.InDelta(t, si, back, p.Gain, "si=%g raw=%d", si, raw)
	}
}

func TestSIValueToRawClipping(t *testing.T) {
	p := Pair{Gain: 1e-6}
	t.Run("negative clips to zero", func(t *testing.T) {
		assert.Equal(t, uint32(0), p.SIValueToRaw(-3.0))
	})
	t.Run("overflow clips to max", func(t *testing.T) {
		assert.Equal(t, uint32(math.MaxUint32), p.SIValueToRaw(1e12))
	})
	t.Run("nan clips to zero", func(t *testing.T) {
		assert.Equal(t, uint32(0), p.SIValueToRaw(math.NaN()))
	})
}

func TestSliceConversion(t *testing.T) {
	p := Pair{Gain: 0.5, Offset: 1}
	si := p.RawToSI([]uint32{0, 2, 4})
	assert.Equal(t, []float64{1, 2, 3}, si)
	raw := p.SIToRaw(si)
	assert.Equal(t, []uint32{0, 2, 4}, raw)
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 3e-9, c.Voltage.Gain)
	assert.Equal(t, 250e-12, c.Current.Gain)
	assert.False(t, c.IsZero())
	assert.True(t, Calibration{}.IsZero())
}
