package trace

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"shpdata/internal/container"
)

// previewSamples bounds the head/tail value preview per dataset.
const previewSamples = 8

// Metadata mirrors the file's attribute/dataset structure in a form
// suitable for serialization.
type Metadata map[string]any

// Metadata reflects the full structure of the file: root and data
// attributes, per-dataset descriptors with a bounded head/tail preview,
// and the log sources with their record counts.
func (r *Reader) Metadata() (Metadata, error) {
	if r.closed {
		return nil, ErrClosed
	}

	root, err := r.c.Attrs(container.ScopeRoot)
	if err != nil {
		return nil, err
	}
	data, err := r.c.Attrs(container.ScopeData)
	if err != nil {
		return nil, err
	}
	// The embedded config attribute is itself YAML; inline it.
	if raw, ok := data[attrConfig].(string); ok {
		var cfg any
		if err := yaml.Unmarshal([]byte(raw), &cfg); err == nil {
			data[attrConfig] = cfg
		}
	}

	datasets, err := r.c.Datasets()
	if err != nil {
		return nil, err
	}
	for _, ds := range datasets {
		info, err := r.datasetInfo(ds)
		if err != nil {
			return nil, err
		}
		data[ds.Name] = info
	}

	logs := map[string]any{}
	sources, err := r.c.LogSources()
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		recs, err := r.c.Logs(src)
		if err != nil {
			return nil, err
		}
		logs[src] = map[string]any{"records": len(recs)}
	}

	return Metadata{"root": root, "data": data, "logs": logs}, nil
}

func (r *Reader) datasetInfo(ds *container.Dataset) (map[string]any, error) {
	n, err := ds.Len()
	if err != nil {
		return nil, err
	}
	info := map[string]any{
		"dtype":         ds.Dtype,
		"unit":          ds.Unit,
		"description":   ds.Description,
		"compression":   string(ds.Compression),
		"chunk_samples": ds.ChunkSamples,
		"length":        n,
	}
	if ds.Name == dsVoltageName || ds.Name == dsCurrentName {
		info["gain"] = ds.Gain
		info["offset"] = ds.Offset
	}

	head := n
	if head > previewSamples {
		head = previewSamples
	}
	tailFrom := n - previewSamples
	if tailFrom < head {
		tailFrom = head
	}
	switch ds.Dtype {
	case container.DtypeI64:
		hv, err := ds.I64Range(0, head)
		if err != nil {
			return nil, err
		}
		tv, err := ds.I64Range(tailFrom, n)
		if err != nil {
			return nil, err
		}
		info["head"], info["tail"] = hv, tv
	case container.DtypeU32:
		hv, err := ds.U32Range(0, head)
		if err != nil {
			return nil, err
		}
		tv, err := ds.U32Range(tailFrom, n)
		if err != nil {
			return nil, err
		}
		info["head"], info["tail"] = hv, tv
	}
	return info, nil
}

// SaveMetadata writes the metadata mapping as YAML next to the trace file
// (or to dst when non-empty). It fails when the destination exists and
// overwrite is false.
func (r *Reader) SaveMetadata(dst string, overwrite bool) (string, error) {
	if dst == "" {
		dst = strings.TrimSuffix(r.path, ".shp") + ".yml"
	}
	if _, err := os.Stat(dst); err == nil && !overwrite {
		return "", fmt.Errorf("save metadata to %s: %w", dst, os.ErrExist)
	}
	meta, err := r.Metadata()
	if err != nil {
		return "", err
	}
	out, err := yaml.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return "", err
	}
	r.log.Infow("saved metadata", "path", dst)
	return dst, nil
}
