// Package cmipcat builds flat intake catalogs of climate-model datasets
// stored as Zarr objects.
//
// A catalog maps each dataset identifier to the URL of its Zarr store, a
// glob for its original NetCDF archive, and a small set of derived facets.
// The package owns the identifier address model and the row derivation; record
// sources, archive listings and output locations are pluggable.
package cmipcat

import (
	"context"
	"io"
	"iter"
	"strconv"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// DatasetID is a dot-delimited dataset identifier with a fixed number of
// positional facets, for example
// CMIP6.CMIP.MOHC.UKESM1-0-LL.historical.r1i1p1f2.Amon.tas.gn.v20190406.
type DatasetID string

// String returns the identifier text.
func (id DatasetID) String() string { return string(id) }

// Facets splits the identifier into its positional facets.
func (id DatasetID) Facets() []string {
	return splitFacets(string(id))
}

// Facet returns the facet at index i, or "" when i is out of range.
func (id DatasetID) Facet(i int) string {
	facets := id.Facets()
	if i < 0 || i >= len(facets) {
		return ""
	}
	return facets[i]
}

// Row is a single catalog entry.
//
// A row always renders as len(Facets)+4 columns; failures while deriving
// optional values leave them empty rather than dropping the row.
type Row struct {
	// Facets holds the identifier facets in layout order.
	Facets []string

	// DCPPStartYear is the forecast initialization year for decadal
	// prediction members. Nil when the member is not a DCPP member.
	DCPPStartYear *int

	// TimeRange is "YYYYMM-YYYYMM", or "" when no range could be derived.
	TimeRange string

	// ZarrURL is the public URL of the Zarr store.
	ZarrURL string

	// NCPath is the archive glob matching the original NetCDF files.
	NCPath string
}

// Values renders the row as strings in header order.
func (r Row) Values() []string {
	values := make([]string, 0, len(r.Facets)+len(derivedColumns))
	values = append(values, r.Facets...)
	year := ""
	if r.DCPPStartYear != nil {
		year = strconv.Itoa(*r.DCPPStartYear)
	}
	return append(values, year, r.TimeRange, r.ZarrURL, r.NCPath)
}

// Catalog is the ordered row set of one build plus its header.
type Catalog struct {
	Header []string
	Rows   []Row
}

// Len returns the number of rows.
func (c *Catalog) Len() int { return len(c.Rows) }

// derivedColumns are appended to the facet columns of every catalog.
var derivedColumns = []string{dcppColumn, "time_range", "zarr_path", "nc_path"}

const dcppColumn = "dcpp_start_year"

// -----------------------------------------------------------------------------
// Record source
// -----------------------------------------------------------------------------

// RecordSource is a read-only snapshot mapping dataset identifiers to raw
// store paths.
//
// All yields entries in the order the backing store produced them. Builders
// must not reorder them: catalog row order is a function of this order.
type RecordSource interface {
	// Len returns the number of entries.
	Len() int

	// Get returns the store path recorded for id.
	Get(id DatasetID) (string, bool)

	// All iterates over all entries in source order.
	All() iter.Seq2[DatasetID, string]
}

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the underlying storage system used for record snapshots,
// archive listings and published catalogs.
//
// Implementations may target filesystems, S3, or other object stores.
type Store interface {
	// Put writes data to the given path.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get retrieves data from the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks whether a path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the path if it exists.
	Delete(ctx context.Context, path string) error
}

// -----------------------------------------------------------------------------
// Lister interface
// -----------------------------------------------------------------------------

// Lister enumerates the entry names of one archive directory.
//
// Only the base names are returned. Implementations return an error when the
// directory cannot be read; callers treat that as "no temporal range".
type Lister interface {
	ListDir(ctx context.Context, dir string) ([]string, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context, dir string) ([]string, error)

// ListDir calls f(ctx, dir).
func (f ListerFunc) ListDir(ctx context.Context, dir string) ([]string, error) {
	return f(ctx, dir)
}

// -----------------------------------------------------------------------------
// Codec interface
// -----------------------------------------------------------------------------

// RecordCodec serializes record snapshots.
//
// Codecs are pluggable and orthogonal to storage and compression.
type RecordCodec interface {
	// Name returns the codec identifier (for example, "jsonl" or "json").
	Name() string

	// Encode writes the entries of src to w in source order.
	Encode(w io.Writer, src RecordSource) error

	// Decode reads a snapshot from r, preserving entry order.
	Decode(r io.Reader) (*Records, error)
}

// -----------------------------------------------------------------------------
// Compressor interface
// -----------------------------------------------------------------------------

// Compressor handles compression and decompression of data streams.
type Compressor interface {
	// Name returns the compressor identifier (for example, "gzip", "zstd", "noop").
	Name() string

	// Extension returns the file extension (for example, ".gz", ".zst", "").
	Extension() string

	// Compress wraps a writer with compression.
	Compress(w io.Writer) (io.WriteCloser, error)

	// Decompress wraps a reader with decompression.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested resource does not exist.
	ErrNotFound = errNotFound{}

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errPathExists{}

	// ErrMalformedIdentifier indicates a path or identifier that does not
	// contain enough facets to form a dataset identifier.
	ErrMalformedIdentifier = errMalformedIdentifier{}

	// ErrTemporalRangeUnavailable indicates no time range could be derived
	// from an archive directory.
	ErrTemporalRangeUnavailable = errTemporalRangeUnavailable{}

	// ErrTemplateNotFound indicates the JSON descriptor template is missing.
	ErrTemplateNotFound = errTemplateNotFound{}

	// ErrWrite indicates a catalog output could not be written.
	ErrWrite = errWrite{}

	// ErrUnknownRecordKind indicates a record source kind outside the
	// supported set.
	ErrUnknownRecordKind = errUnknownRecordKind{}
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }

type errMalformedIdentifier struct{}

func (errMalformedIdentifier) Error() string { return "malformed dataset identifier" }

type errTemporalRangeUnavailable struct{}

func (errTemporalRangeUnavailable) Error() string { return "temporal range unavailable" }

type errTemplateNotFound struct{}

func (errTemplateNotFound) Error() string { return "template not found" }

type errWrite struct{}

func (errWrite) Error() string { return "write failed" }

type errUnknownRecordKind struct{}

func (errUnknownRecordKind) Error() string { return "unknown record kind" }
