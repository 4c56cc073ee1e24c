package cmipcat

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxScanTokenSize = 10 * 1024 * 1024 // 10MB
	streamBufSize    = 64 * 1024
)

// CodecForExtension returns the record codec for a file extension.
func CodecForExtension(ext string) (RecordCodec, error) {
	switch ext {
	case ".jsonl":
		return NewJSONLCodec(), nil
	case ".json":
		return NewJSONCodec(), nil
	default:
		return nil, fmt.Errorf("no record codec for extension %q", ext)
	}
}

// -----------------------------------------------------------------------------
// JSONL Codec
// -----------------------------------------------------------------------------

// recordLine is one JSON Lines entry.
type recordLine struct {
	DatasetID DatasetID `json:"dataset_id"`
	Path      string    `json:"path"`
}

// jsonlCodec stores one {"dataset_id", "path"} object per line.
type jsonlCodec struct{}

// NewJSONLCodec creates a JSON Lines record codec.
func NewJSONLCodec() RecordCodec {
	return &jsonlCodec{}
}

func (j *jsonlCodec) Name() string {
	return "jsonl"
}

func (j *jsonlCodec) Encode(w io.Writer, src RecordSource) error {
	enc := jsonCodec.NewEncoder(w)
	for id, p := range src.All() {
		if err := enc.Encode(recordLine{DatasetID: id, Path: p}); err != nil {
			return err
		}
	}
	return nil
}

func (j *jsonlCodec) Decode(r io.Reader) (*Records, error) {
	records := NewRecords()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, streamBufSize), maxScanTokenSize)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var rec recordLine
		if err := jsonCodec.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.DatasetID == "" {
			return nil, fmt.Errorf("line %d: missing dataset_id", line)
		}
		records.Set(rec.DatasetID, rec.Path)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// -----------------------------------------------------------------------------
// JSON Object Codec
// -----------------------------------------------------------------------------

// jsonCodecObject stores the snapshot as a single JSON object keyed by
// dataset identifier. Key order in the document is the entry order.
type jsonCodecObject struct{}

// NewJSONCodec creates a JSON object record codec.
//
// Decoding streams the object and keeps document key order, which a plain
// map decode would lose.
func NewJSONCodec() RecordCodec {
	return &jsonCodecObject{}
}

func (j *jsonCodecObject) Name() string {
	return "json"
}

func (j *jsonCodecObject) Encode(w io.Writer, src RecordSource) error {
	stream := jsonCodec.BorrowStream(w)
	defer jsonCodec.ReturnStream(stream)

	stream.WriteObjectStart()
	first := true
	for id, p := range src.All() {
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteObjectField(string(id))
		stream.WriteString(p)
	}
	stream.WriteObjectEnd()
	stream.WriteRaw("\n")
	if stream.Error != nil {
		return stream.Error
	}
	return stream.Flush()
}

func (j *jsonCodecObject) Decode(r io.Reader) (*Records, error) {
	records := NewRecords()
	it := jsoniter.Parse(jsonCodec, r, streamBufSize)
	if it.WhatIsNext() != jsoniter.ObjectValue {
		if it.Error != nil && !errors.Is(it.Error, io.EOF) {
			return nil, it.Error
		}
		return nil, errors.New("record snapshot is not a JSON object")
	}
	it.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
		p := it.ReadString()
		if it.Error != nil {
			return false
		}
		records.Set(DatasetID(key), p)
		return true
	})
	if it.Error != nil && !errors.Is(it.Error, io.EOF) {
		return nil, it.Error
	}
	return records, nil
}

var (
	_ RecordCodec = (*jsonlCodec)(nil)
	_ RecordCodec = (*jsonCodecObject)(nil)
)
