// Package backend resolves configured locations into cmipcat record
// sources, archive listers and output stores.
//
// Record locations are chosen by scheme:
//
//	sqlite:/path/records.db[#table]   SQLite table (default: the record kind)
//	postgres://...[#table]            PostgreSQL table (default: the record kind)
//	s3://bucket/key                   snapshot object, format from extensions
//	/path/zarr.jsonl                  snapshot file, format from extensions
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pithecene-io/cmipcat/cmipcat"
	"github.com/pithecene-io/cmipcat/cmipcat/s3"
	"github.com/pithecene-io/cmipcat/cmipcat/sqlsource"
	"github.com/pithecene-io/cmipcat/internal/config"
)

// Location schemes.
const (
	schemeSQLite     = "sqlite:"
	schemePostgres   = "postgres://"
	schemePostgreSQL = "postgresql://"
	tableSep         = "#"
)

// Option configures a Backend.
type Option func(*Backend)

// WithS3Client uses client for every s3:// location instead of building one
// from the store configuration.
func WithS3Client(client s3.API) Option {
	return func(b *Backend) {
		b.s3Client = client
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Backend opens the storage a build needs.
type Backend struct {
	cfg    *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	s3Client s3.API
}

// New creates a Backend for cfg.
func New(cfg *config.Config, opts ...Option) *Backend {
	b := &Backend{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// -----------------------------------------------------------------------------
// Record sources
// -----------------------------------------------------------------------------

// OpenRecords loads the record snapshot of the given kind for project.
// Returns cmipcat.ErrUnknownRecordKind for kinds outside the allow-list,
// before any location is consulted.
func (b *Backend) OpenRecords(ctx context.Context, project, kind string) (*cmipcat.Records, error) {
	k, err := cmipcat.ParseRecordKind(kind)
	if err != nil {
		return nil, err
	}
	p, err := b.cfg.Project(project)
	if err != nil {
		return nil, err
	}
	location := p.Records[string(k)]
	if location == "" {
		return nil, fmt.Errorf("project %s: no %s records configured", project, k)
	}

	records, err := b.loadRecords(ctx, location, string(k))
	if err != nil {
		return nil, fmt.Errorf("open %s records: %w", k, err)
	}
	b.logger.Info("loaded records", "kind", k, "location", redact(location), "count", records.Len())
	return records, nil
}

func (b *Backend) loadRecords(ctx context.Context, location, defaultTable string) (*cmipcat.Records, error) {
	switch {
	case strings.HasPrefix(location, schemeSQLite):
		path, table := splitTable(strings.TrimPrefix(location, schemeSQLite), defaultTable)
		return sqlsource.LoadSQLite(ctx, path, table)

	case strings.HasPrefix(location, schemePostgres), strings.HasPrefix(location, schemePostgreSQL):
		dsn, table := splitTable(location, defaultTable)
		return sqlsource.LoadPostgres(ctx, dsn, table)

	case strings.HasPrefix(location, s3.Scheme):
		cfg, _ := s3.ParseURL(location)
		store, err := b.s3Store(ctx, s3.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, err
		}
		return cmipcat.LoadRecords(ctx, store, cfg.Prefix)

	default:
		store, err := cmipcat.NewFS(filepath.Dir(location))
		if err != nil {
			return nil, err
		}
		return cmipcat.LoadRecords(ctx, store, filepath.Base(location))
	}
}

// splitTable separates an optional "#table" suffix from a location.
func splitTable(location, defaultTable string) (string, string) {
	i := strings.LastIndex(location, tableSep)
	if i < 0 || i == len(location)-1 {
		return strings.TrimSuffix(location, tableSep), defaultTable
	}
	return location[:i], location[i+1:]
}

// redact hides credentials embedded in database URLs.
func redact(location string) string {
	scheme, rest, ok := strings.Cut(location, "://")
	if !ok {
		return location
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return location
}

// -----------------------------------------------------------------------------
// Archive listing
// -----------------------------------------------------------------------------

// OpenLister returns the Lister for an archive root. s3:// roots are listed
// through the object store; anything else is a local directory.
func (b *Backend) OpenLister(ctx context.Context, archiveDir string) (cmipcat.Lister, error) {
	cfg, ok := s3.ParseURL(archiveDir)
	if !ok {
		return cmipcat.NewOSLister(), nil
	}
	store, err := b.s3Store(ctx, s3.Config{Bucket: cfg.Bucket})
	if err != nil {
		return nil, err
	}

	bucketURL := s3.Scheme + cfg.Bucket + "/"
	inner := cmipcat.NewStoreLister(store)
	return cmipcat.ListerFunc(func(ctx context.Context, dir string) ([]string, error) {
		key, ok := strings.CutPrefix(dir, bucketURL)
		if !ok {
			return nil, fmt.Errorf("list %s: outside bucket %s", dir, cfg.Bucket)
		}
		return inner.ListDir(ctx, key)
	}), nil
}

// -----------------------------------------------------------------------------
// Output
// -----------------------------------------------------------------------------

// OpenOutput returns the store catalog artifacts are published to.
func (b *Backend) OpenOutput(ctx context.Context) (cmipcat.Store, error) {
	out := b.cfg.Output
	switch out.Driver {
	case config.DriverFS:
		if err := os.MkdirAll(out.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create output root: %w", err)
		}
		return cmipcat.NewFS(out.Root)
	case config.DriverS3:
		store, err := b.s3Store(ctx, s3.Config{Bucket: out.Bucket, Prefix: out.Prefix})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return cmipcat.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown output driver %q", out.Driver)
	}
}

// -----------------------------------------------------------------------------
// S3
// -----------------------------------------------------------------------------

func (b *Backend) s3Store(ctx context.Context, cfg s3.Config) (*s3.Store, error) {
	client, err := b.client(ctx)
	if err != nil {
		return nil, err
	}
	return s3.New(client, cfg)
}

// client returns the shared S3 client, creating it on first use.
func (b *Backend) client(ctx context.Context) (s3.API, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.s3Client != nil {
		return b.s3Client, nil
	}

	sc := b.cfg.Store
	client, err := s3.NewClient(ctx, s3.ClientConfig{
		Region:       sc.Region,
		Endpoint:     sc.Endpoint,
		UsePathStyle: sc.PathStyle,
		Anonymous:    sc.Anonymous,
	})
	if err != nil {
		return nil, err
	}
	b.s3Client = client
	return client, nil
}
