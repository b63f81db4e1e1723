package codec

import "errors"

// LZF after liblzf: a byte-oriented LZ77 with a 13-bit offset window.
// The stream is a sequence of control bytes. ctrl < 32 starts a literal run
// of ctrl+1 bytes; otherwise ctrl>>5 (plus an optional extension byte when
// it saturates at 7) encodes the match length minus 2, and the remaining
// 13 bits the backward offset minus 1.

const (
	lzfHashLog = 13
	lzfHashLen = 1 << lzfHashLog
	lzfMaxLit  = 1 << 5
	lzfMaxOff  = 1 << 13
	lzfMaxRef  = (1 << 8) + (1 << 3)
)

var errLZFCorrupt = errors.New("corrupt lzf stream")

func lzfHash(a, b, c byte) uint32 {
	h := uint32(a)<<16 | uint32(b)<<8 | uint32(c)
	return (h * 2654435761) >> (32 - lzfHashLog) & (lzfHashLen - 1)
}

func lzfCompress(in []byte) []byte {
	out := make([]byte, 0, len(in)+len(in)/16+4)
	var htab [lzfHashLen]int // position+1, 0 means empty
	var lit []byte

	flush := func() {
		for len(lit) > 0 {
			n := len(lit)
			if n > lzfMaxLit {
				n = lzfMaxLit
			}
			out = append(out, byte(n-1))
			out = append(out, lit[:n]...)
			lit = lit[n:]
		}
	}

	i := 0
	for i < len(in) {
		if i+2 < len(in) {
			h := lzfHash(in[i], in[i+1], in[i+2])
			cand := htab[h] - 1
			htab[h] = i + 1
			if cand >= 0 && i-cand-1 < lzfMaxOff &&
				in[cand] == in[i] && in[cand+1] == in[i+1] && in[cand+2] == in[i+2] {
				length := 3
				limit := len(in) - i
				if limit > lzfMaxRef {
					limit = lzfMaxRef
				}
				for length < limit && in[cand+length] == in[i+length] {
					length++
				}
				flush()
				off := i - cand - 1
				l := length - 2
				if l < 7 {
					out = append(out, byte(l<<5)|byte(off>>8), byte(off))
				} else {
					out = append(out, byte(7<<5)|byte(off>>8), byte(l-7), byte(off))
				}
				i += length
				continue
			}
		}
		lit = append(lit, in[i])
		i++
	}
	flush()
	return out
}

func lzfDecompress(in []byte, sizeHint int) ([]byte, error) {
	out := make([]byte, 0, sizeHint)
	i := 0
	for i < len(in) {
		ctrl := int(in[i])
		i++
		if ctrl < lzfMaxLit {
			n := ctrl + 1
			if i+n > len(in) {
				return nil, errLZFCorrupt
			}
			out = append(out, in[i:i+n]...)
			i += n
			continue
		}
		length := ctrl >> 5
		if length == 7 {
			if i >= len(in) {
				return nil, errLZFCorrupt
			}
			length += int(in[i])
			i++
		}
		length += 2
		if i >= len(in) {
			return nil, errLZFCorrupt
		}
		ref := len(out) - (ctrl&0x1f)<<8 - int(in[i]) - 1
		i++
		if ref < 0 {
			return nil, errLZFCorrupt
		}
		// The match may overlap its own output, so copy bytewise.
		for j := 0; j < length; j++ {
			out = append(out, out[ref+j])
		}
	}
	return out, nil
}
