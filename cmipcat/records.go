package cmipcat

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"path"
	"strings"
)

// RecordKind names one of the record snapshots kept per project.
type RecordKind string

// Known record kinds.
const (
	// KindZarr maps dataset identifiers to converted Zarr store paths.
	KindZarr RecordKind = "zarr"

	// KindError maps dataset identifiers to conversion error messages.
	KindError RecordKind = "error"

	// KindVerify maps dataset identifiers to verification status.
	KindVerify RecordKind = "verify"
)

// RecordKinds lists the supported record kinds.
var RecordKinds = []RecordKind{KindZarr, KindError, KindVerify}

// ParseRecordKind validates a record kind name.
// Returns ErrUnknownRecordKind for names outside RecordKinds.
func ParseRecordKind(name string) (RecordKind, error) {
	for _, k := range RecordKinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRecordKind, name)
}

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// Records is an in-memory RecordSource that keeps insertion order.
//
// Records is not safe for concurrent mutation; snapshots are built once and
// then only read.
type Records struct {
	keys  []DatasetID
	paths map[DatasetID]string
}

// NewRecords creates an empty snapshot.
func NewRecords() *Records {
	return &Records{paths: make(map[DatasetID]string)}
}

// Set records path for id. Setting an existing id replaces its path and
// keeps its original position.
func (r *Records) Set(id DatasetID, path string) {
	if _, exists := r.paths[id]; !exists {
		r.keys = append(r.keys, id)
	}
	r.paths[id] = path
}

// Len returns the number of entries.
func (r *Records) Len() int { return len(r.keys) }

// Get returns the path recorded for id.
func (r *Records) Get(id DatasetID) (string, bool) {
	p, ok := r.paths[id]
	return p, ok
}

// All iterates over entries in insertion order.
func (r *Records) All() iter.Seq2[DatasetID, string] {
	return func(yield func(DatasetID, string) bool) {
		for _, id := range r.keys {
			if !yield(id, r.paths[id]) {
				return
			}
		}
	}
}

var _ RecordSource = (*Records)(nil)

// -----------------------------------------------------------------------------
// Snapshot persistence
// -----------------------------------------------------------------------------

// LoadRecords reads a record snapshot from store.
//
// The codec and compressor are chosen from the key's extensions, for example
// "zarr.jsonl.zst" or "verify.json.gz".
func LoadRecords(ctx context.Context, store Store, key string) (*Records, error) {
	codec, comp, err := formatForKey(key)
	if err != nil {
		return nil, err
	}

	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("records: open %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()

	dr, err := comp.Decompress(rc)
	if err != nil {
		return nil, fmt.Errorf("records: %s: %w", key, err)
	}
	defer func() { _ = dr.Close() }()

	records, err := codec.Decode(dr)
	if err != nil {
		return nil, fmt.Errorf("records: decode %s: %w", key, err)
	}
	return records, nil
}

// SaveRecords writes src to store at key, replacing any existing snapshot.
// The format follows the key's extensions as in LoadRecords.
func SaveRecords(ctx context.Context, store Store, key string, src RecordSource) error {
	codec, comp, err := formatForKey(key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	cw, err := comp.Compress(&buf)
	if err != nil {
		return fmt.Errorf("records: %s: %w", key, err)
	}
	if err := codec.Encode(cw, src); err != nil {
		_ = cw.Close()
		return fmt.Errorf("records: encode %s: %w", key, err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("records: %s: %w", key, err)
	}

	if err := replace(ctx, store, key, &buf); err != nil {
		return fmt.Errorf("records: write %s: %w", key, err)
	}
	return nil
}

// formatForKey resolves the codec and compressor for a snapshot key.
func formatForKey(key string) (RecordCodec, Compressor, error) {
	name := path.Base(key)
	comp := CompressorForExtension(path.Ext(name))
	name = strings.TrimSuffix(name, comp.Extension())

	codec, err := CodecForExtension(path.Ext(name))
	if err != nil {
		return nil, nil, fmt.Errorf("records: %s: %w", key, err)
	}
	return codec, comp, nil
}
