package cmipcat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// -----------------------------------------------------------------------------
// Builder Configuration
// -----------------------------------------------------------------------------

// BuildOption configures a Builder.
type BuildOption func(*Builder)

// WithLimit stops a build after n rows. n <= 0 means no limit.
func WithLimit(n int) BuildOption {
	return func(b *Builder) {
		b.limit = n
	}
}

// WithLogger sets the logger for per-row warnings and build summaries.
// Default: a logger that discards everything.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records build outcomes in m.
func WithMetrics(m *Metrics) BuildOption {
	return func(b *Builder) {
		b.metrics = m
	}
}

// -----------------------------------------------------------------------------
// Builder
// -----------------------------------------------------------------------------

// Builder derives catalog rows from a record source.
//
// A build is a single synchronous pass. Rows follow the iteration order of
// the record source; no sort is applied, so sources without a stable order
// produce differently ordered catalogs across runs.
type Builder struct {
	layout  Layout
	lister  Lister
	limit   int
	logger  *slog.Logger
	metrics *Metrics
}

// NewBuilder creates a Builder for layout. Archive directories are listed
// through lister when deriving time ranges.
func NewBuilder(layout Layout, lister Lister, opts ...BuildOption) (*Builder, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if lister == nil {
		return nil, errors.New("builder: lister is required")
	}
	b := &Builder{
		layout: layout,
		lister: lister,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Layout returns the builder's address layout.
func (b *Builder) Layout() Layout { return b.layout }

// Build reads every entry of records once and returns the catalog.
//
// A malformed identifier or store path aborts the build with
// ErrMalformedIdentifier. Time range failures only empty that row's
// time_range and are logged at warning level.
func (b *Builder) Build(ctx context.Context, records RecordSource) (*Catalog, error) {
	started := time.Now()
	capacity := records.Len()
	if b.limit > 0 {
		capacity = min(capacity, b.limit)
	}
	catalog := &Catalog{
		Header: b.layout.Header(),
		Rows:   make([]Row, 0, capacity),
	}

	for key, storePath := range records.All() {
		if b.limit > 0 && len(catalog.Rows) >= b.limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := b.buildRow(ctx, key, storePath)
		if err != nil {
			return nil, err
		}
		catalog.Rows = append(catalog.Rows, row)
		b.metrics.observeRow(row)
	}

	elapsed := time.Since(started)
	b.metrics.observeBuild(elapsed.Seconds())
	b.logger.Info("built catalog rows",
		"rows", len(catalog.Rows),
		"records", records.Len(),
		"elapsed", elapsed)
	return catalog, nil
}

// buildRow derives one catalog row.
func (b *Builder) buildRow(ctx context.Context, key DatasetID, storePath string) (Row, error) {
	id, err := b.layout.Normalize(string(key))
	if err != nil {
		return Row{}, fmt.Errorf("dataset %s: %w", key, err)
	}
	zarrID, err := b.layout.Normalize(storePath)
	if err != nil {
		return Row{}, fmt.Errorf("dataset %s: store path: %w", key, err)
	}

	row := Row{
		Facets:  id.Facets(),
		ZarrURL: b.layout.ZarrURL(zarrID),
		NCPath:  b.layout.ArchiveGlob(id),
	}
	if year, ok := b.layout.DecadalStartYear(id); ok {
		row.DCPPStartYear = &year
	}

	timeRange, err := b.layout.TemporalRange(ctx, id, b.lister)
	if err != nil {
		var rangeErr *TemporalRangeError
		reason := ReasonListFailed
		if errors.As(err, &rangeErr) {
			reason = rangeErr.Reason
		}
		b.metrics.observeTimeRangeFailure(reason)
		b.logger.Warn("failed to get temporal range",
			"dataset_id", id,
			"reason", reason.String(),
			"error", err)
	} else {
		b.logger.Debug("found temporal range", "dataset_id", id, "time_range", timeRange)
	}
	row.TimeRange = timeRange
	return row, nil
}
