package waveform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synthesize renders a byte stream as an 8N1 waveform: idle high, one low
// start bit, 8 data bits LSB first, one high stop bit per frame.
func synthesize(data []byte, startNs, periodNs int64) []Level {
	levels := []Level{{TimeNs: startNs - 16*periodNs, High: true}}
	t := startNs
	for _, b := range data {
		bits := []bool{false}
		for k := 0; k < 8; k++ {
			bits = append(bits, b&(1<<k) != 0)
		}
		bits = append(bits, true, true) // stop bit, then idle
		for i, bit := range bits {
			levels = append(levels, Level{TimeNs: t + int64(i)*periodNs, High: bit})
		}
		t += int64(len(bits)) * periodNs
	}
	return Normalize(levels)
}

func TestSplit(t *testing.T) {
	// Pin 0 toggles, pin 2 toggles, pin 5 stays high throughout.
	edges := []Edge{
		{TimeNs: 0, Value: 0b100001},
		{TimeNs: 10, Value: 0b100000},
		{TimeNs: 20, Value: 0b100100},
		{TimeNs: 30, Value: 0b100101},
	}
	waves := Split(edges)
	assert.Equal(t, []int{0, 2}, Pins(waves))

	assert.Equal(t, []Level{
		{TimeNs: 0, High: true},
		{TimeNs: 10, High: false},
		{TimeNs: 30, High: true},
	}, waves[0])
	assert.Equal(t, []Level{
		{TimeNs: 0, High: false},
		{TimeNs: 20, High: true},
	}, waves[2])
}

func TestSplitEmpty(t *testing.T) {
	assert.Nil(t, Split(nil))
}

func TestNormalize(t *testing.T) {
	in := []Level{
		{TimeNs: 0, High: true},
		{TimeNs: 5, High: true},
		{TimeNs: 10, High: false},
		{TimeNs: 15, High: false},
		{TimeNs: 20, High: true},
	}
	assert.Equal(t, []Level{
		{TimeNs: 0, High: true},
		{TimeNs: 10, High: false},
		{TimeNs: 20, High: true},
	}, Normalize(in))
}

func TestDetectBaudrate(t *testing.T) {
	t.Run("9600 baud", func(t *testing.T) {
		levels := synthesize([]byte{0x55, 0xA3, 0x55}, 1_000_000, 104_167)
		baud, err := DetectBaudrate(levels)
		require.NoError(t, err)
		assert.Equal(t, 9600, baud)
	})

	t.Run("1M baud", func(t *testing.T) {
		levels := synthesize([]byte{0x55, 0x55}, 1_000_000, 1_000)
		baud, err := DetectBaudrate(levels)
		require.NoError(t, err)
		assert.Equal(t, 1_000_000, baud)
	})

	t.Run("too few edges", func(t *testing.T) {
		levels := []Level{
			{TimeNs: 0, High: true},
			{TimeNs: 10, High: false},
			{TimeNs: 20, High: true},
		}
		_, err := DetectBaudrate(levels)
		assert.ErrorIs(t, err, ErrTooFewEdges)
	})
}

func TestDecodeUART(t *testing.T) {
	const period = 104_167 // 9600 baud

	t.Run("byte stream round trip", func(t *testing.T) {
		msg := []byte("Hello, world!\n")
		levels := synthesize(msg, 1_000_000, period)
		got, err := DecodeUART(levels, 9600, 8)
		require.NoError(t, err)
		require.Len(t, got, len(msg))
		for i, b := range got {
			assert.Equal(t, msg[i], b.Value, "byte %d", i)
		}
		// Timestamps carry the start-bit times in order.
		for i := 1; i < len(got); i++ {
			assert.Greater(t, got[i].TimeNs, got[i-1].TimeNs)
		}
	})

	t.Run("bad stop bit is dropped", func(t *testing.T) {
		levels := synthesize([]byte{'A'}, 1_000_000, period)
		// Hold the line low across the stop bit of a second, broken frame.
		brokenStart := levels[len(levels)-1].TimeNs + 4*period
		levels = append(levels,
			Level{TimeNs: brokenStart, High: false},
			Level{TimeNs: brokenStart + 14*period, High: true},
		)
		got, err := DecodeUART(levels, 9600, 8)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, byte('A'), got[0].Value)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		_, err := DecodeUART(nil, 0, 8)
		assert.Error(t, err)
		_, err = DecodeUART(nil, 9600, 9)
		assert.Error(t, err)
	})
}
