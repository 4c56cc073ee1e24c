package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/cmipcat/cmipcat"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cmipcat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "cmip6", cfg.DefaultProject)
	assert.Equal(t, DriverFS, cfg.Output.Driver)
	assert.Contains(t, cfg.Projects, "cmip6")
	require.NoError(t, cfg.Validate())
}

func TestLoad_RequiresConfigEnv(t *testing.T) {
	t.Setenv(EnvConfig, "")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CMIPCAT_CONFIG environment variable not set")
}

func TestLoad_WithConfigEnv(t *testing.T) {
	path := writeConfig(t, `
store:
  endpoint_url: https://object-store.example/
output:
  driver: memory
`)
	t.Setenv(EnvConfig, path)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "https://object-store.example/", cfg.Store.EndpointURL)
	assert.Equal(t, DriverMemory, cfg.Output.Driver)
	// Untouched sections keep their defaults.
	assert.Equal(t, "templates/intake.json", cfg.Intake.JSONTemplate)
}

func TestLoadFile_Projects(t *testing.T) {
	t.Setenv("CMIPCAT_DATA", "/srv/data")
	path := writeConfig(t, `
default_project: cordex
projects:
  cordex:
    facet_names: [project, product, domain, institute, driving_model, experiment, ensemble, rcm, version, frequency, variable, date]
    split_index: 5
    member_index: 6
    archive_dir: ${CMIPCAT_DATA}/cordex
    records:
      zarr: sqlite:${CMIPCAT_DATA}/{project}/records.db
      verify: s3://records/{project}/verify.jsonl.zst
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	p, err := cfg.Project("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/cordex", p.ArchiveDir)
	assert.Equal(t, "sqlite:/srv/data/cordex/records.db", p.Records["zarr"])
	assert.Equal(t, "s3://records/cordex/verify.jsonl.zst", p.Records["verify"])

	layout := p.Layout(cfg.Store.EndpointURL)
	assert.Equal(t, 12, layout.NFacets())
	assert.Equal(t, 5, layout.SplitIndex)
	assert.Equal(t, 6, layout.MemberIndex)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "projects: [unclosed")

	_, err := LoadFile(path)

	assert.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIntakeFor_ExpandsProject(t *testing.T) {
	cfg := Default()
	cfg.Intake.ParquetCatalog = "{project}.parquet"

	intake := cfg.IntakeFor("cmip6")
	out := intake.Outputs()

	assert.Equal(t, "cmip6_zarr", out.Substitutions.ID)
	assert.Equal(t, "cmip6.json", out.Descriptor)
	assert.Equal(t, "cmip6.csv", out.CSV)
	assert.Equal(t, "cmip6.parquet", out.Parquet)
	assert.Contains(t, out.Substitutions.Description, "cmip6")
	assert.NotContains(t, out.Substitutions.CSVURL, projectPlaceholder)
}

func TestProject_Unknown(t *testing.T) {
	_, err := Default().Project("cmip5")

	assert.ErrorContains(t, err, "unknown project")
}

func TestProjectLayout_Defaults(t *testing.T) {
	p, err := Default().Project("cmip6")
	require.NoError(t, err)

	layout := p.Layout("https://store.example/")

	assert.Equal(t, cmipcat.CMIP6Facets, layout.FacetNames)
	assert.Equal(t, 4, layout.SplitIndex)
	assert.Equal(t, 5, layout.MemberIndex)
	assert.Equal(t, "/badc/cmip6/data", layout.ArchiveRoot)
}

func TestProjectLayout_GeneratedFacetNames(t *testing.T) {
	split, member := 2, 3
	p := ProjectConfig{NFacets: 6, SplitIndex: &split, MemberIndex: &member}

	layout := p.Layout("")

	assert.Equal(t, []string{"facet_0", "facet_1", "facet_2", "facet_3", "facet_4", "facet_5"}, layout.FacetNames)
	assert.NoError(t, layout.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Store.EndpointURL = "" },
			wantErr: "store.endpoint_url is required",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Output.Driver = "ftp" },
			wantErr: "invalid output.driver",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Output.Driver = DriverS3 },
			wantErr: "output.bucket is required",
		},
		{
			name:    "unknown default project",
			mutate:  func(c *Config) { c.DefaultProject = "cmip5" },
			wantErr: `default_project "cmip5" is not configured`,
		},
		{
			name: "unknown record kind",
			mutate: func(c *Config) {
				p := c.Projects["cmip6"]
				p.Records = map[string]string{"zarr": "z.jsonl", "pickle": "p.jsonl"}
				c.Projects["cmip6"] = p
			},
			wantErr: "unknown record kind",
		},
		{
			name: "missing zarr records",
			mutate: func(c *Config) {
				p := c.Projects["cmip6"]
				p.Records = map[string]string{"error": "e.jsonl"}
				c.Projects["cmip6"] = p
			},
			wantErr: "records.zarr is required",
		},
		{
			name: "facet count mismatch",
			mutate: func(c *Config) {
				p := c.Projects["cmip6"]
				p.NFacets = 3
				p.FacetNames = []string{"a", "b"}
				c.Projects["cmip6"] = p
			},
			wantErr: "n_facets is 3",
		},
		{
			name: "split beyond facets",
			mutate: func(c *Config) {
				p := c.Projects["cmip6"]
				split := 11
				p.SplitIndex = &split
				c.Projects["cmip6"] = p
			},
			wantErr: "split index 11 out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()

			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
