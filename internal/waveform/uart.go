package waveform

import (
	"errors"
	"fmt"
	"time"
)

// Byte is one decoded UART symbol, stamped with the start-bit time.
type Byte struct {
	TimeNs int64
	Value  byte
}

var (
	// ErrTooFewEdges means the waveform is too short to measure a bit period.
	ErrTooFewEdges = errors.New("too few edges to detect baudrate")
	// ErrUnstablePeriod means the shortest intervals do not cluster, so the
	// measured bit period is not trustworthy.
	ErrUnstablePeriod = errors.New("edge intervals do not form a stable bit period")
)

// minDetectEdges is the least number of state changes DetectBaudrate needs.
const minDetectEdges = 8

// DetectBaudrate measures the bit period of an async serial waveform.
// The shortest observed edge-to-edge interval is taken as one bit; the
// result averages the cluster of intervals within 4/3 of that minimum.
func DetectBaudrate(levels []Level) (int, error) {
	levels = Normalize(levels)
	if len(levels) < minDetectEdges {
		return 0, fmt.Errorf("%w (%d edges)", ErrTooFewEdges, len(levels))
	}
	minStep := int64(0)
	for i := 1; i < len(levels); i++ {
		d := levels[i].TimeNs - levels[i-1].TimeNs
		if d <= 0 {
			continue
		}
		if minStep == 0 || d < minStep {
			minStep = d
		}
	}
	if minStep == 0 {
		return 0, ErrUnstablePeriod
	}

	var sum, count int64
	for i := 1; i < len(levels); i++ {
		d := levels[i].TimeNs - levels[i-1].TimeNs
		if d >= minStep && 3*d <= 4*minStep {
			sum += d
			count++
		}
	}
	if count < 3 {
		return 0, fmt.Errorf("%w (cluster of %d)", ErrUnstablePeriod, count)
	}
	period := float64(sum) / float64(count)
	return int(float64(time.Second)/period + 0.5), nil
}

// levelAt samples the line state at time t. idx tracks the scan position
// and must only be used with non-decreasing t. The line is assumed idle
// high before the first recorded event.
func levelAt(levels []Level, idx *int, t int64) bool {
	for *idx+1 < len(levels) && levels[*idx+1].TimeNs <= t {
		*idx++
	}
	if levels[*idx].TimeNs > t {
		return true
	}
	return levels[*idx].High
}

// DecodeUART decodes an 8N1-style byte stream from a single-line waveform:
// one low start bit, dataBits data bits LSB first, high stop bit. Frames
// with a bad stop bit are dropped.
func DecodeUART(levels []Level, baudrate, dataBits int) ([]Byte, error) {
	if baudrate <= 0 {
		return nil, fmt.Errorf("baudrate must be positive (got %d)", baudrate)
	}
	if dataBits <= 0 || dataBits > 8 {
		return nil, fmt.Errorf("dataBits must be in 1..8 (got %d)", dataBits)
	}
	levels = Normalize(levels)
	period := float64(time.Second) / float64(baudrate)

	var out []Byte
	idx := 0
	frameEnd := int64(-1 << 62)
	for i, lv := range levels {
		if lv.High || lv.TimeNs < frameEnd {
			continue
		}
		if i > 0 && !levels[i-1].High {
			continue
		}
		start := lv.TimeNs
		var sym byte
		for k := 0; k < dataBits; k++ {
			t := start + int64((1.5+float64(k))*period)
			if levelAt(levels, &idx, t) {
				sym |= 1 << k
			}
		}
		stop := start + int64((1.5+float64(dataBits))*period)
		if !levelAt(levels, &idx, stop) {
			continue
		}
		out = append(out, Byte{TimeNs: start, Value: sym})
		frameEnd = stop
	}
	return out, nil
}
