// Package codec implements the chunk compression codecs recognized by the
// trace container: none, lzf and gzip (fixed at level 1).
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Compression identifies a chunk codec. The tag is stored per dataset and
// fixed for the file's lifetime.
type Compression string

const (
	None Compression = "none"
	LZF  Compression = "lzf"
	Gzip Compression = "gzip" // level 1
)

// Default matches the original recorder: gzip level 1 trades a little CPU
// for roughly half the file size.
const Default = Gzip

// Parse maps a user-supplied compression name to a codec.
// The empty string selects the default.
func Parse(s string) (Compression, error) {
	switch Compression(s) {
	case "":
		return Default, nil
	case None, LZF, Gzip:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, lzf or gzip)", s)
	}
}

// Compress encodes raw with the given codec.
func Compress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case None:
		return raw, nil
	case LZF:
		return lzfCompress(raw), nil
	case Gzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

// Decompress decodes data written by Compress. sizeHint is the expected
// decoded size in bytes and may be 0 when unknown.
func Decompress(c Compression, data []byte, sizeHint int) ([]byte, error) {
	switch c {
	case None:
		return data, nil
	case LZF:
		return lzfDecompress(data, sizeHint)
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		out := make([]byte, 0, sizeHint)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}
