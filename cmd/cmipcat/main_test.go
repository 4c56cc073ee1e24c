package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/pithecene-io/cmipcat/cmipcat"
	"github.com/pithecene-io/cmipcat/internal/testutil"
)

// writeProject lays out a records snapshot, an archive tree, a descriptor
// template and a config file under a temp dir, returning the config path
// and the output root.
func writeProject(t *testing.T) (string, string) {
	t.Helper()
	ctx := t.Context()
	dir := t.TempDir()

	store, err := cmipcat.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	records := cmipcat.NewRecords()
	records.Set(testutil.HistoricalID, testutil.ZarrStorePath("cmip6-zarr",
		"CMIP6.CMIP.MOHC.UKESM1-0-LL", "historical.r1i1p1f2.Amon.tas.gn.v20190406"))
	records.Set(testutil.DecadalID, testutil.ZarrStorePath("cmip6-zarr",
		"CMIP6.DCPP.MOHC.HadGEM3-GC31-MM", "dcppA-hindcast.s1960-r1i1p1f2.Amon.tas.gn.v20200417"))
	if err := cmipcat.SaveRecords(ctx, store, "records/zarr.jsonl", records); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(dir, "archive")
	testutil.WriteArchive(t, archive,
		strings.ReplaceAll(testutil.HistoricalID, ".", "/"),
		"tas_Amon_UKESM1-0-LL_historical_r1i1p1f2_gn_200001-200512.nc")

	template := filepath.Join(dir, "intake.json")
	if err := os.WriteFile(template, []byte(`{"id": "__id__", "catalog_file": "__cat_file__"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	cfg := `
store:
  endpoint_url: https://store.example/
intake:
  json_template: ` + template + `
  id_template: "{project}_zarr"
  csv_catalog_url: https://store.example/catalogs/{project}.csv
  json_catalog: "{project}.json"
  csv_catalog: "{project}.csv"
  parquet_catalog: "{project}.parquet"
output:
  driver: fs
  root: ` + out + `
projects:
  cmip6:
    archive_dir: ` + archive + `
    records:
      zarr: ` + filepath.Join(dir, "records", "zarr.jsonl") + `
`
	cfgPath := filepath.Join(dir, "cmipcat.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, out
}

func TestRun_PublishesCatalog(t *testing.T) {
	cfgPath, out := writeProject(t)
	metricsPath := filepath.Join(t.TempDir(), "cmipcat.prom")

	err := run(t.Context(), []string{"--config", cfgPath, "--metrics-file", metricsPath, "--log-level", "error"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	csvData, err := os.ReadFile(filepath.Join(out, "cmip6.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], ",,200001-200012,https://store.example/CMIP6.CMIP.MOHC.UKESM1-0-LL/") {
		t.Errorf("unexpected first row: %s", lines[1])
	}
	if !strings.Contains(lines[2], ",1960,,") {
		t.Errorf("unexpected second row: %s", lines[2])
	}

	descriptor, err := os.ReadFile(filepath.Join(out, "cmip6.json"))
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	if !strings.Contains(string(descriptor), `"id": "cmip6_zarr"`) {
		t.Errorf("descriptor not rendered: %s", descriptor)
	}
	if _, err := os.Stat(filepath.Join(out, "cmip6.parquet")); err != nil {
		t.Errorf("parquet catalog missing: %v", err)
	}

	metrics, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(metrics), "cmipcat_catalog_rows_total 2") {
		t.Errorf("metrics missing row count:\n%s", metrics)
	}
}

func TestRun_RerunReplacesOutputs(t *testing.T) {
	cfgPath, _ := writeProject(t)
	args := []string{"--config", cfgPath, "--log-level", "error"}

	for i := range 2 {
		if err := run(t.Context(), args); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
}

func TestRun_Limit(t *testing.T) {
	cfgPath, out := writeProject(t)

	if err := run(t.Context(), []string{"--config", cfgPath, "--limit", "1", "--log-level", "error"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(out, "cmip6.csv"))
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("expected header + 1 row, got %d lines", n)
	}
}

func TestRun_Errors(t *testing.T) {
	cfgPath, _ := writeProject(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown project", []string{"--config", cfgPath, "--project", "cmip5"}},
		{"stray argument", []string{"--config", cfgPath, "extra"}},
		{"bad log level", []string{"--config", cfgPath, "--log-level", "loud"}},
		{"missing config", []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(t.Context(), tt.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	err := run(t.Context(), []string{"--help"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("expected ErrHelp, got %v", err)
	}
}

func TestRun_ConfigFromEnv(t *testing.T) {
	cfgPath, out := writeProject(t)
	t.Setenv("CMIPCAT_CONFIG", cfgPath)

	if err := run(t.Context(), []string{"--log-level", "error"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "cmip6.csv")); err != nil {
		t.Errorf("csv catalog missing: %v", err)
	}
}
