package cmipcat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

const testTemplate = `{
  "esmcat_version": "0.1.0",
  "id": "__id__",
  "description": "__description__",
  "catalog_file": "__cat_file__"
}
`

func writeTemplate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intake.json")
	if err := os.WriteFile(path, []byte(testTemplate), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testOutputs(t *testing.T) Outputs {
	return Outputs{
		TemplatePath: writeTemplate(t),
		Substitutions: Substitutions{
			ID:          "cmip6_zarr",
			Description: "CMIP6 Zarr datasets",
			CSVURL:      "https://store.example/catalogs/cmip6.csv",
		},
		Descriptor: "cmip6.json",
		CSV:        "cmip6.csv",
		Parquet:    "cmip6.parquet",
	}
}

func TestRenderDescriptor(t *testing.T) {
	got := RenderDescriptor(testTemplate, Substitutions{
		ID:          "cmip6_zarr",
		Description: "desc",
		CSVURL:      "https://x/cmip6.csv",
	})
	for _, want := range []string{`"id": "cmip6_zarr"`, `"description": "desc"`, `"catalog_file": "https://x/cmip6.csv"`} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered descriptor missing %s:\n%s", want, got)
		}
	}
	if strings.Contains(got, "__") {
		t.Errorf("placeholders left in:\n%s", got)
	}
}

func TestRenderDescriptor_IsLiteral(t *testing.T) {
	got := RenderDescriptor(`{"a": "__id__", "b": "__id__"}`, Substitutions{ID: `$1 "quoted"`})
	if got != `{"a": "$1 "quoted"", "b": "$1 "quoted""}` {
		t.Errorf("unexpected substitution: %s", got)
	}
}

func TestReadTemplate_NotFound(t *testing.T) {
	_, err := ReadTemplate(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestWriteCSV_EmptyCatalog(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, &Catalog{Header: testLayout().Header()}); err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 1 {
		t.Errorf("expected header only, got %d lines", lines)
	}
}

func TestPublisher_Publish(t *testing.T) {
	ctx := t.Context()
	store := NewMemory()
	metrics := NewMetrics(prometheus.NewRegistry())
	pub := NewPublisher(store, nil, metrics)

	if err := pub.Publish(ctx, parquetCatalog(), testOutputs(t)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	descriptor := readAll(t, store, "cmip6.json")
	if !strings.Contains(descriptor, `"id": "cmip6_zarr"`) {
		t.Errorf("descriptor not rendered:\n%s", descriptor)
	}
	csvText := readAll(t, store, "cmip6.csv")
	if n := strings.Count(csvText, "\n"); n != 3 {
		t.Errorf("expected 3 CSV lines, got %d", n)
	}
	if ok, _ := store.Exists(ctx, "cmip6.parquet"); !ok {
		t.Error("expected parquet artifact")
	}

	for _, format := range []string{"json", "csv", "parquet"} {
		if got := promtest.ToFloat64(metrics.PublishedArtifacts.WithLabelValues(format)); got != 1 {
			t.Errorf("%s artifacts = %v, want 1", format, got)
		}
	}
}

func TestPublisher_PublishReplacesPreviousRun(t *testing.T) {
	ctx := t.Context()
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pub := NewPublisher(store, nil, nil)
	out := testOutputs(t)
	out.Parquet = ""

	if err := pub.Publish(ctx, parquetCatalog(), out); err != nil {
		t.Fatalf("first Publish failed: %v", err)
	}
	smaller := parquetCatalog()
	smaller.Rows = smaller.Rows[:1]
	if err := pub.Publish(ctx, smaller, out); err != nil {
		t.Fatalf("second Publish failed: %v", err)
	}

	if n := strings.Count(readAll(t, store, "cmip6.csv"), "\n"); n != 2 {
		t.Errorf("expected replaced CSV with 2 lines, got %d", n)
	}
}

func TestPublisher_MissingTemplateWritesNothing(t *testing.T) {
	store := NewMemory()
	out := testOutputs(t)
	out.TemplatePath = filepath.Join(t.TempDir(), "absent.json")

	err := NewPublisher(store, nil, nil).Publish(t.Context(), parquetCatalog(), out)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	paths, _ := store.List(t.Context(), "")
	if len(paths) != 0 {
		t.Errorf("expected no artifacts, got %v", paths)
	}
}

// rejectingStore fails writes to one key.
type rejectingStore struct {
	Store
	reject string
}

func (r *rejectingStore) Put(ctx context.Context, path string, rd io.Reader) error {
	if path == r.reject {
		return errors.New("disk full")
	}
	return r.Store.Put(ctx, path, rd)
}

func TestPublisher_WriteFailureStopsPublication(t *testing.T) {
	ctx := t.Context()
	store := &rejectingStore{Store: NewMemory(), reject: "cmip6.csv"}

	err := NewPublisher(store, nil, nil).Publish(ctx, parquetCatalog(), testOutputs(t))
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if !strings.Contains(err.Error(), "cmip6.csv") {
		t.Errorf("error should name the key: %v", err)
	}

	if ok, _ := store.Exists(ctx, "cmip6.json"); !ok {
		t.Error("descriptor is written before the CSV")
	}
	if ok, _ := store.Exists(ctx, "cmip6.parquet"); ok {
		t.Error("parquet must not be written after a CSV failure")
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNotFound, "not found"},
		{ErrPathExists, "path exists"},
		{ErrMalformedIdentifier, "malformed dataset identifier"},
		{ErrTemporalRangeUnavailable, "temporal range unavailable"},
		{ErrTemplateNotFound, "template not found"},
		{ErrWrite, "write failed"},
		{ErrUnknownRecordKind, "unknown record kind"},
	}
	for _, tt := range tests {
		if tt.err.Error() != tt.want {
			t.Errorf("%T: got %q, want %q", tt.err, tt.err.Error(), tt.want)
		}
	}
}
