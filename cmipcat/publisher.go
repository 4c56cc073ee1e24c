package cmipcat

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Descriptor template placeholders.
const (
	placeholderDescription = "__description__"
	placeholderID          = "__id__"
	placeholderCatFile     = "__cat_file__"
)

// Substitutions are the values written into a JSON descriptor template.
type Substitutions struct {
	Description string
	ID          string
	CSVURL      string
}

// RenderDescriptor replaces the placeholders of template literally.
// The descriptor schema belongs to the template; nothing is parsed.
func RenderDescriptor(template string, subs Substitutions) string {
	return strings.NewReplacer(
		placeholderDescription, subs.Description,
		placeholderID, subs.ID,
		placeholderCatFile, subs.CSVURL,
	).Replace(template)
}

// ReadTemplate loads a descriptor template from the local filesystem.
// Returns ErrTemplateNotFound when the file does not exist.
func ReadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	return string(data), nil
}

// WriteCSV writes the catalog header and one line per row.
// Absent optional values are written as empty fields.
func WriteCSV(w io.Writer, catalog *Catalog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(catalog.Header); err != nil {
		return err
	}
	for _, row := range catalog.Rows {
		if err := cw.Write(row.Values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// -----------------------------------------------------------------------------
// Publisher
// -----------------------------------------------------------------------------

// Outputs names the artifacts of one publication. Keys are paths in the
// publisher's store.
type Outputs struct {
	// TemplatePath is the local JSON descriptor template.
	TemplatePath string

	// Substitutions fill the descriptor template.
	Substitutions Substitutions

	// Descriptor is the key of the rendered JSON descriptor.
	Descriptor string

	// CSV is the key of the CSV catalog.
	CSV string

	// Parquet is the optional key of a Parquet copy of the catalog.
	Parquet string
}

// Publisher writes catalogs and descriptors to a Store, replacing any
// previous artifacts.
//
// Stores implementing Replacer swap each artifact atomically. On other
// stores replacement is delete-then-write, so a crash can leave an artifact
// missing.
type Publisher struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// NewPublisher creates a Publisher writing to store.
func NewPublisher(store Store, logger *slog.Logger, metrics *Metrics) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{store: store, logger: logger, metrics: metrics}
}

// Publish writes the descriptor, then the CSV catalog, then the optional
// Parquet catalog. The first failure aborts the remaining steps.
func (p *Publisher) Publish(ctx context.Context, catalog *Catalog, out Outputs) error {
	if err := p.PublishDescriptor(ctx, out.TemplatePath, out.Descriptor, out.Substitutions); err != nil {
		return err
	}
	if err := p.PublishCSV(ctx, catalog, out.CSV); err != nil {
		return err
	}
	if out.Parquet != "" {
		return p.PublishParquet(ctx, catalog, out.Parquet)
	}
	return nil
}

// PublishDescriptor renders the template at templatePath and writes it to key.
// Returns ErrTemplateNotFound for a missing template and ErrWrite when the
// store rejects the write.
func (p *Publisher) PublishDescriptor(ctx context.Context, templatePath, key string, subs Substitutions) error {
	template, err := ReadTemplate(templatePath)
	if err != nil {
		return err
	}
	content := RenderDescriptor(template, subs)
	if err := p.write(ctx, key, strings.NewReader(content)); err != nil {
		return err
	}
	p.metrics.observePublished("json")
	p.logger.Info("wrote intake JSON catalog", "path", key)
	return nil
}

// PublishCSV writes catalog as CSV to key.
func (p *Publisher) PublishCSV(ctx context.Context, catalog *Catalog, key string) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, catalog); err != nil {
		return fmt.Errorf("%w: encode csv: %w", ErrWrite, err)
	}
	if err := p.write(ctx, key, &buf); err != nil {
		return err
	}
	p.metrics.observePublished("csv")
	p.logger.Info("wrote CSV catalog", "path", key, "rows", catalog.Len())
	return nil
}

// PublishParquet writes catalog as Parquet to key.
func (p *Publisher) PublishParquet(ctx context.Context, catalog *Catalog, key string) error {
	var buf bytes.Buffer
	if err := WriteParquet(&buf, catalog); err != nil {
		return fmt.Errorf("%w: encode parquet: %w", ErrWrite, err)
	}
	if err := p.write(ctx, key, &buf); err != nil {
		return err
	}
	p.metrics.observePublished("parquet")
	p.logger.Info("wrote Parquet catalog", "path", key, "rows", catalog.Len())
	return nil
}

func (p *Publisher) write(ctx context.Context, key string, r io.Reader) error {
	if err := replace(ctx, p.store, key, r); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, key, err)
	}
	return nil
}
