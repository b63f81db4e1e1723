// Package container implements the single-file trace container: a
// hierarchical attribute/dataset store backed by SQLite, with chunked,
// optionally compressed columnar payloads and variable-length log records.
package container

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"shpdata/internal/codec"
)

var (
	// ErrNoDataset is returned when a named dataset does not exist.
	ErrNoDataset = errors.New("dataset not found")
	// ErrNoAttr is returned when a required attribute is missing.
	ErrNoAttr = errors.New("attribute not found")
)

// Attribute scopes. Root holds file-wide attributes, Data the attributes of
// the sample group.
const (
	ScopeRoot = "root"
	ScopeData = "data"
)

// Container is an open trace container. It owns its database handle
// exclusively; Close is idempotent.
type Container struct {
	db       *sql.DB
	path     string
	writable bool
}

// Create makes a new container file. It fails when the path exists and
// overwrite is false.
func Create(path string, overwrite bool) (*Container, error) {
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("create %s: %w", path, os.ErrExist)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("overwrite %s: %w", path, err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Container{db: db, path: path, writable: true}, nil
}

// Open opens an existing container. With writable false the underlying
// database is opened read-only.
func Open(path string, writable bool) (*Container, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_foreign_keys=on"
	if !writable {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// Probe the schema so a foreign file fails here, not on first use.
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM datasets").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: not a trace container: %w", path, err)
	}
	return &Container{db: db, path: path, writable: writable}, nil
}

// Path returns the file path the container was opened with.
func (c *Container) Path() string { return c.path }

// Close releases the database handle. Calling it twice is a no-op.
func (c *Container) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// SetAttr stores a string attribute.
func (c *Container) SetAttr(scope, key, value string) error {
	return c.setAttr(scope, key, value, "str")
}

// SetAttrInt stores an integer attribute.
func (c *Container) SetAttrInt(scope, key string, value int64) error {
	return c.setAttr(scope, key, strconv.FormatInt(value, 10), "int")
}

// SetAttrFloat stores a float attribute.
func (c *Container) SetAttrFloat(scope, key string, value float64) error {
	return c.setAttr(scope, key, strconv.FormatFloat(value, 'g', -1, 64), "float")
}

func (c *Container) setAttr(scope, key, value, kind string) error {
	_, err := c.db.Exec(
		"INSERT INTO attrs (scope, key, value, kind) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, kind = excluded.kind",
		scope, key, value, kind,
	)
	return err
}

// Attr returns a string attribute. A missing key yields ErrNoAttr.
func (c *Container) Attr(scope, key string) (string, error) {
	var value string
	err := c.db.QueryRow("SELECT value FROM attrs WHERE scope = ? AND key = ?", scope, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s/%s: %w", scope, key, ErrNoAttr)
	}
	return value, err
}

// AttrInt returns an integer attribute.
func (c *Container) AttrInt(scope, key string) (int64, error) {
	s, err := c.Attr(scope, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s/%s: %w", scope, key, err)
	}
	return v, nil
}

// Attrs returns all attributes of a scope with their stored types decoded.
func (c *Container) Attrs(scope string) (map[string]any, error) {
	rows, err := c.db.Query("SELECT key, value, kind FROM attrs WHERE scope = ? ORDER BY key", scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, value, kind string
		if err := rows.Scan(&key, &value, &kind); err != nil {
			return nil, err
		}
		switch kind {
		case "int":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", scope, key, err)
			}
			out[key] = v
		case "float":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", scope, key, err)
			}
			out[key] = v
		default:
			out[key] = value
		}
	}
	return out, rows.Err()
}

// CreateDataset registers a new column. chunkSamples is the nominal chunk
// size used by the writer; the stored chunks may still vary in length.
func (c *Container) CreateDataset(name, dtype, unit, description string, chunkSamples int, comp codec.Compression) (*Dataset, error) {
	res, err := c.db.Exec(
		"INSERT INTO datasets (name, dtype, unit, description, compression, chunk_samples) VALUES (?, ?, ?, ?, ?, ?)",
		name, dtype, unit, description, string(comp), chunkSamples,
	)
	if err != nil {
		return nil, fmt.Errorf("create dataset %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Dataset{
		c: c, ID: id, Name: name, Dtype: dtype, Unit: unit,
		Description: description, Compression: comp, ChunkSamples: chunkSamples,
		Gain: 1, Offset: 0,
	}, nil
}

// Dataset looks up a column by name.
func (c *Container) Dataset(name string) (*Dataset, error) {
	ds := &Dataset{c: c}
	var comp string
	err := c.db.QueryRow(
		"SELECT id, name, dtype, unit, description, compression, chunk_samples, length, cal_gain, cal_offset "+
			"FROM datasets WHERE name = ?", name,
	).Scan(&ds.ID, &ds.Name, &ds.Dtype, &ds.Unit, &ds.Description, &comp,
		&ds.ChunkSamples, &ds.Length, &ds.Gain, &ds.Offset)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%q: %w", name, ErrNoDataset)
	}
	if err != nil {
		return nil, err
	}
	ds.Compression = codec.Compression(comp)
	return ds, nil
}

// Datasets lists all columns in creation order.
func (c *Container) Datasets() ([]*Dataset, error) {
	rows, err := c.db.Query(
		"SELECT id, name, dtype, unit, description, compression, chunk_samples, length, cal_gain, cal_offset " +
			"FROM datasets ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Dataset
	for rows.Next() {
		ds := &Dataset{c: c}
		var comp string
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Dtype, &ds.Unit, &ds.Description, &comp,
			&ds.ChunkSamples, &ds.Length, &ds.Gain, &ds.Offset); err != nil {
			return nil, err
		}
		ds.Compression = codec.Compression(comp)
		out = append(out, ds)
	}
	return out, rows.Err()
}

// SetDatasetCal stores the calibration pair of a column.
func (c *Container) SetDatasetCal(name string, gain, offset float64) error {
	res, err := c.db.Exec("UPDATE datasets SET cal_gain = ?, cal_offset = ? WHERE name = ?", gain, offset, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%q: %w", name, ErrNoDataset)
	}
	return nil
}

// Column is one chunk of packed sample data destined for a dataset.
type Column struct {
	Dataset string
	Raw     []byte // packed little-endian values, uncompressed
	N       int
}

// AppendColumns appends one chunk to each named dataset in a single
// transaction, so a multi-column append is all-or-nothing.
func (c *Container) AppendColumns(cols ...Column) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, col := range cols {
		var id int64
		var comp string
		err := tx.QueryRow("SELECT id, compression FROM datasets WHERE name = ?", col.Dataset).Scan(&id, &comp)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%q: %w", col.Dataset, ErrNoDataset)
		}
		if err != nil {
			return err
		}
		var seq int64
		if err := tx.QueryRow("SELECT COALESCE(MAX(seq)+1, 0) FROM chunks WHERE dataset_id = ?", id).Scan(&seq); err != nil {
			return err
		}
		raw, err := codec.Compress(codec.Compression(comp), col.Raw)
		if err != nil {
			return fmt.Errorf("compress chunk for %q: %w", col.Dataset, err)
		}
		if _, err := tx.Exec("INSERT INTO chunks (dataset_id, seq, n, raw) VALUES (?, ?, ?, ?)",
			id, seq, col.N, raw); err != nil {
			return fmt.Errorf("append chunk to %q: %w", col.Dataset, err)
		}
		if _, err := tx.Exec("UPDATE datasets SET length = length + ? WHERE id = ?", col.N, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LogRecord is one auxiliary timestamped text entry.
type LogRecord struct {
	TimeNs  int64
	Message string
}

// AppendLog stores a log record under the given source.
func (c *Container) AppendLog(source string, timeNs int64, message string) error {
	_, err := c.db.Exec("INSERT INTO logs (source, time_ns, message) VALUES (?, ?, ?)", source, timeNs, message)
	return err
}

// Logs returns all records of a source in time order.
func (c *Container) Logs(source string) ([]LogRecord, error) {
	rows, err := c.db.Query("SELECT time_ns, message FROM logs WHERE source = ? ORDER BY time_ns, id", source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var rec LogRecord
		if err := rows.Scan(&rec.TimeNs, &rec.Message); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LogSources lists the distinct log sources present in the file.
func (c *Container) LogSources() ([]string, error) {
	rows, err := c.db.Query("SELECT DISTINCT source FROM logs ORDER BY source")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
