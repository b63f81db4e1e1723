package container

import (
	"fmt"

	"shpdata/internal/codec"
)

// Element types stored in datasets.
const (
	DtypeU32 = "u32"
	DtypeI64 = "i64"
)

// Dataset describes one column of the container. The struct fields are a
// snapshot from lookup time; Len queries the live length.
type Dataset struct {
	c *Container

	ID           int64
	Name         string
	Dtype        string
	Unit         string
	Description  string
	Compression  codec.Compression
	ChunkSamples int
	Length       int64
	Gain         float64
	Offset       float64
}

func (ds *Dataset) elemSize() (int, error) {
	switch ds.Dtype {
	case DtypeU32:
		return 4, nil
	case DtypeI64:
		return 8, nil
	default:
		return 0, fmt.Errorf("dataset %q: unknown dtype %q", ds.Name, ds.Dtype)
	}
}

// Len returns the current number of samples in the column.
func (ds *Dataset) Len() (int64, error) {
	var n int64
	err := ds.c.db.QueryRow("SELECT length FROM datasets WHERE id = ?", ds.ID).Scan(&n)
	return n, err
}

// NumChunks returns the number of stored chunks.
func (ds *Dataset) NumChunks() (int64, error) {
	var n int64
	err := ds.c.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE dataset_id = ?", ds.ID).Scan(&n)
	return n, err
}

// ChunkSizes returns the per-chunk sample counts in sequence order.
func (ds *Dataset) ChunkSizes() ([]int, error) {
	rows, err := ds.c.db.Query("SELECT n FROM chunks WHERE dataset_id = ? ORDER BY seq", ds.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// readRange returns the packed bytes of samples [start, end). The bounds
// must already be clamped to the column length.
func (ds *Dataset) readRange(start, end int64) ([]byte, error) {
	if end <= start {
		return nil, nil
	}
	esize, err := ds.elemSize()
	if err != nil {
		return nil, err
	}
	rows, err := ds.c.db.Query("SELECT n, raw FROM chunks WHERE dataset_id = ? ORDER BY seq", ds.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]byte, 0, (end-start)*int64(esize))
	var off int64
	for rows.Next() && off < end {
		var n int64
		var raw []byte
		if err := rows.Scan(&n, &raw); err != nil {
			return nil, err
		}
		lo, hi := off, off+n
		off = hi
		if hi <= start {
			continue
		}
		data, err := codec.Decompress(ds.Compression, raw, int(n)*esize)
		if err != nil {
			return nil, fmt.Errorf("dataset %q chunk at %d: %w", ds.Name, lo, err)
		}
		if int64(len(data)) != n*int64(esize) {
			return nil, fmt.Errorf("dataset %q chunk at %d: got %d bytes, want %d", ds.Name, lo, len(data), n*int64(esize))
		}
		a, b := start, end
		if a < lo {
			a = lo
		}
		if b > hi {
			b = hi
		}
		out = append(out, data[(a-lo)*int64(esize):(b-lo)*int64(esize)]...)
	}
	return out, rows.Err()
}

// U32Range reads samples [start, end) of a u32 column.
func (ds *Dataset) U32Range(start, end int64) ([]uint32, error) {
	data, err := ds.readRange(start, end)
	if err != nil {
		return nil, err
	}
	return UnpackU32(data)
}

// I64Range reads samples [start, end) of an i64 column.
func (ds *Dataset) I64Range(start, end int64) ([]int64, error) {
	data, err := ds.readRange(start, end)
	if err != nil {
		return nil, err
	}
	return UnpackI64(data)
}

// U32All reads the whole column.
func (ds *Dataset) U32All() ([]uint32, error) {
	n, err := ds.Len()
	if err != nil {
		return nil, err
	}
	return ds.U32Range(0, n)
}

// I64All reads the whole column.
func (ds *Dataset) I64All() ([]int64, error) {
	n, err := ds.Len()
	if err != nil {
		return nil, err
	}
	return ds.I64Range(0, n)
}
