package cmipcat

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

const parquetSchemaName = "catalog"

// WriteParquet writes the catalog as a single-row-group Parquet file.
//
// Every column is a required string except dcpp_start_year, which is an
// optional INT32. Parquet orders group columns by name, so the file's
// column order differs from the CSV header.
func WriteParquet(w io.Writer, catalog *Catalog) error {
	schema, err := catalogParquetSchema(catalog.Header)
	if err != nil {
		return err
	}

	columns := make(map[string]int, len(catalog.Header))
	for i, name := range catalog.Header {
		columns[name] = i
	}
	fields := schema.Fields()

	buf := parquet.NewBuffer(schema)
	for i, row := range catalog.Rows {
		values := row.Values()
		if len(values) != len(catalog.Header) {
			return fmt.Errorf("parquet: row %d has %d values, header has %d", i, len(values), len(catalog.Header))
		}
		pqRow := make(parquet.Row, len(fields))
		for col, field := range fields {
			v := parquetValue(field.Name(), values[columns[field.Name()]], row)
			pqRow[col] = v.Level(0, definitionLevel(field, v), col)
		}
		if _, err := buf.WriteRows([]parquet.Row{pqRow}); err != nil {
			return fmt.Errorf("parquet: write row %d: %w", i, err)
		}
	}

	writer := parquet.NewWriter(w, schema, parquet.Compression(&parquet.Snappy))
	if _, err := writer.WriteRowGroup(buf); err != nil {
		_ = writer.Close()
		return fmt.Errorf("parquet: write row group: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}
	return nil
}

// catalogParquetSchema builds the Parquet schema for a catalog header.
func catalogParquetSchema(header []string) (*parquet.Schema, error) {
	group := make(parquet.Group, len(header))
	for _, name := range header {
		if name == "" {
			return nil, fmt.Errorf("parquet: empty column name")
		}
		if _, dup := group[name]; dup {
			return nil, fmt.Errorf("parquet: duplicate column %q", name)
		}
		if name == dcppColumn {
			group[name] = parquet.Optional(parquet.Int(32))
			continue
		}
		group[name] = parquet.String()
	}
	return parquet.NewSchema(parquetSchemaName, group), nil
}

func parquetValue(column, text string, row Row) parquet.Value {
	if column != dcppColumn {
		return parquet.ByteArrayValue([]byte(text))
	}
	if row.DCPPStartYear == nil {
		return parquet.NullValue()
	}
	return parquet.Int32Value(int32(*row.DCPPStartYear))
}

func definitionLevel(field parquet.Field, v parquet.Value) int {
	if field.Optional() && !v.IsNull() {
		return 1
	}
	return 0
}
