// Package waveform derives digital signal traces from recorded GPIO edge
// events: per-pin level waveforms and decoded UART byte streams. All
// transforms are pure and operate on in-memory copies of the event data.
package waveform

import "sort"

// Edge is one recorded GPIO event: the bitmask state of all pins after the
// edge, at the given time.
type Edge struct {
	TimeNs int64
	Value  uint32
}

// Level is one state of a single digital line.
type Level struct {
	TimeNs int64
	High   bool
}

// Split reconstructs per-pin waveforms from the bitmask events. Only pins
// that toggle at least once are returned; consecutive identical states of
// a pin are collapsed.
func Split(edges []Edge) map[int][]Level {
	if len(edges) == 0 {
		return nil
	}
	var toggled uint32
	for i := 1; i < len(edges); i++ {
		toggled |= edges[i].Value ^ edges[i-1].Value
	}

	out := make(map[int][]Level)
	for pin := 0; pin < 32; pin++ {
		mask := uint32(1) << pin
		if toggled&mask == 0 {
			continue
		}
		var seq []Level
		for _, e := range edges {
			high := e.Value&mask != 0
			if len(seq) > 0 && seq[len(seq)-1].High == high {
				continue
			}
			seq = append(seq, Level{TimeNs: e.TimeNs, High: high})
		}
		out[pin] = seq
	}
	return out
}

// Normalize drops events that do not change the line state, so the result
// strictly alternates high/low. The input is not modified.
func Normalize(levels []Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, lv := range levels {
		if len(out) > 0 && out[len(out)-1].High == lv.High {
			continue
		}
		out = append(out, lv)
	}
	return out
}

// Pins returns the pin numbers of a Split result in ascending order.
func Pins(waves map[int][]Level) []int {
	pins := make([]int, 0, len(waves))
	for pin := range waves {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	return pins
}
