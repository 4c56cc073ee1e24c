// Package config provides configuration loading for cmipcat.
//
// Configuration is loaded from a single YAML file specified by:
//   - CMIPCAT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Values missing from the file
// keep the defaults of Default.
//
// Intake settings are templates: every "{project}" is replaced with the
// project name when a project is selected.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/cmipcat/cmipcat"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "CMIPCAT_CONFIG"

// projectPlaceholder is replaced with the project name in templated settings.
const projectPlaceholder = "{project}"

// Output drivers.
const (
	DriverFS     = "fs"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// Config is the master configuration for cmipcat.
type Config struct {
	// DefaultProject is built when no project is named on the command line.
	DefaultProject string `yaml:"default_project"`

	// Store configures the object store holding Zarr datasets and any
	// s3:// locations.
	Store StoreConfig `yaml:"store"`

	// Intake configures the published catalog artifacts.
	Intake IntakeConfig `yaml:"intake"`

	// Output configures where catalog artifacts are written.
	Output OutputConfig `yaml:"output"`

	// Projects holds per-project settings keyed by project name. Entries in
	// the file replace default entries of the same name.
	Projects map[string]ProjectConfig `yaml:"projects"`
}

// StoreConfig configures object store access.
type StoreConfig struct {
	// EndpointURL is prepended to Zarr store paths in the catalog.
	// Include the trailing slash.
	EndpointURL string `yaml:"endpoint_url"`

	// Region is the S3 region for s3:// locations.
	// Default: us-east-1
	Region string `yaml:"region"`

	// Endpoint is an optional S3 API endpoint for S3-compatible services.
	Endpoint string `yaml:"endpoint"`

	// PathStyle enables path-style S3 addressing.
	PathStyle bool `yaml:"path_style"`

	// Anonymous sends unsigned S3 requests.
	Anonymous bool `yaml:"anonymous"`
}

// IntakeConfig configures the catalog artifacts. All fields may contain
// "{project}".
type IntakeConfig struct {
	// JSONTemplate is the local path of the descriptor template.
	JSONTemplate string `yaml:"json_template"`

	// DescriptionTemplate renders into __description__.
	DescriptionTemplate string `yaml:"description_template"`

	// IDTemplate renders into __id__.
	IDTemplate string `yaml:"id_template"`

	// CSVCatalogURL renders into __cat_file__.
	CSVCatalogURL string `yaml:"csv_catalog_url"`

	// JSONCatalog is the output key of the rendered descriptor.
	JSONCatalog string `yaml:"json_catalog"`

	// CSVCatalog is the output key of the CSV catalog.
	CSVCatalog string `yaml:"csv_catalog"`

	// ParquetCatalog is the optional output key of a Parquet catalog.
	ParquetCatalog string `yaml:"parquet_catalog"`
}

// OutputConfig selects the store catalog artifacts are written to.
type OutputConfig struct {
	// Driver is one of fs, s3, memory.
	// Default: fs
	Driver string `yaml:"driver"`

	// Root is the base directory of the fs driver.
	Root string `yaml:"root"`

	// Bucket and Prefix locate the s3 driver.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// ProjectConfig holds the address layout and record locations of a project.
type ProjectConfig struct {
	// NFacets is the number of identifier facets. When set it must match
	// FacetNames.
	NFacets int `yaml:"n_facets"`

	// FacetNames names the identifier facets.
	// Default: the CMIP6 facets
	FacetNames []string `yaml:"facet_names"`

	// SplitIndex is the number of facets forming the Zarr store prefix.
	// Default: 4
	SplitIndex *int `yaml:"split_index"`

	// MemberIndex is the position of member_id.
	// Default: 5
	MemberIndex *int `yaml:"member_index"`

	// ArchiveDir is the root of the NetCDF archive. Local directory or
	// s3://bucket/prefix.
	ArchiveDir string `yaml:"archive_dir"`

	// Records maps record kinds (zarr, error, verify) to snapshot
	// locations: a file path, s3://bucket/key, sqlite:path or a postgres://
	// DSN.
	Records map[string]string `yaml:"records"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	return &Config{
		DefaultProject: "cmip6",
		Store: StoreConfig{
			EndpointURL: "https://cmip6-zarr-o.s3.jc.rl.ac.uk/",
			Region:      "us-east-1",
		},
		Intake: IntakeConfig{
			JSONTemplate:        "templates/intake.json",
			DescriptionTemplate: "Intake catalogue for the " + projectPlaceholder + " Zarr object store",
			IDTemplate:          projectPlaceholder + "_zarr",
			CSVCatalogURL:       "https://cmip6-zarr-o.s3.jc.rl.ac.uk/catalogs/" + projectPlaceholder + ".csv",
			JSONCatalog:         projectPlaceholder + ".json",
			CSVCatalog:          projectPlaceholder + ".csv",
		},
		Output: OutputConfig{
			Driver: DriverFS,
			Root:   "catalogs",
		},
		Projects: map[string]ProjectConfig{
			"cmip6": {
				ArchiveDir: "/badc/cmip6/data",
				Records: map[string]string{
					string(cmipcat.KindZarr): "records/" + projectPlaceholder + "/zarr.jsonl",
				},
			},
		},
	}
}

// Load loads configuration from the CMIPCAT_CONFIG environment variable.
//
// There are no fallbacks - if CMIPCAT_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your cmipcat.yaml config file, or use --config flag", EnvConfig)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The only expansion performed is ${HOME} and similar variables in paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	c.Intake.JSONTemplate = expandVars(c.Intake.JSONTemplate)
	c.Output.Root = expandVars(c.Output.Root)
	for name, p := range c.Projects {
		p.ArchiveDir = expandVars(p.ArchiveDir)
		records := make(map[string]string, len(p.Records))
		for kind, location := range p.Records {
			records[kind] = expandVars(location)
		}
		p.Records = records
		c.Projects[name] = p
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Store.EndpointURL == "" {
		errs = append(errs, errors.New("store.endpoint_url is required"))
	}
	if c.Intake.JSONTemplate == "" {
		errs = append(errs, errors.New("intake.json_template is required"))
	}
	if c.Intake.JSONCatalog == "" {
		errs = append(errs, errors.New("intake.json_catalog is required"))
	}
	if c.Intake.CSVCatalog == "" {
		errs = append(errs, errors.New("intake.csv_catalog is required"))
	}

	switch c.Output.Driver {
	case DriverFS:
		if c.Output.Root == "" {
			errs = append(errs, errors.New("output.root is required for the fs driver"))
		}
	case DriverS3:
		if c.Output.Bucket == "" {
			errs = append(errs, errors.New("output.bucket is required for the s3 driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid output.driver: %q", c.Output.Driver))
	}

	if len(c.Projects) == 0 {
		errs = append(errs, errors.New("at least one project is required"))
	}
	for _, name := range c.ProjectNames() {
		if err := c.Projects[name].validate(); err != nil {
			errs = append(errs, fmt.Errorf("projects.%s: %w", name, err))
		}
	}
	if c.DefaultProject != "" {
		if _, ok := c.Projects[c.DefaultProject]; !ok {
			errs = append(errs, fmt.Errorf("default_project %q is not configured", c.DefaultProject))
		}
	}

	return errors.Join(errs...)
}

// ProjectNames returns the configured project names, sorted.
func (c *Config) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects))
	for name := range c.Projects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Project returns the settings of the named project with "{project}"
// expanded. An empty name selects DefaultProject.
func (c *Config) Project(name string) (ProjectConfig, error) {
	if name == "" {
		name = c.DefaultProject
	}
	p, ok := c.Projects[name]
	if !ok {
		return ProjectConfig{}, fmt.Errorf("unknown project %q", name)
	}

	expanded := p
	expanded.ArchiveDir = expandProject(p.ArchiveDir, name)
	expanded.Records = make(map[string]string, len(p.Records))
	for kind, location := range p.Records {
		expanded.Records[kind] = expandProject(location, name)
	}
	return expanded, nil
}

// IntakeFor returns the intake settings with "{project}" expanded.
func (c *Config) IntakeFor(project string) IntakeConfig {
	i := c.Intake
	return IntakeConfig{
		JSONTemplate:        expandProject(i.JSONTemplate, project),
		DescriptionTemplate: expandProject(i.DescriptionTemplate, project),
		IDTemplate:          expandProject(i.IDTemplate, project),
		CSVCatalogURL:       expandProject(i.CSVCatalogURL, project),
		JSONCatalog:         expandProject(i.JSONCatalog, project),
		CSVCatalog:          expandProject(i.CSVCatalog, project),
		ParquetCatalog:      expandProject(i.ParquetCatalog, project),
	}
}

// Outputs returns the publication targets of expanded intake settings.
func (i IntakeConfig) Outputs() cmipcat.Outputs {
	return cmipcat.Outputs{
		TemplatePath: i.JSONTemplate,
		Substitutions: cmipcat.Substitutions{
			Description: i.DescriptionTemplate,
			ID:          i.IDTemplate,
			CSVURL:      i.CSVCatalogURL,
		},
		Descriptor: i.JSONCatalog,
		CSV:        i.CSVCatalog,
		Parquet:    i.ParquetCatalog,
	}
}

func expandProject(s, project string) string {
	return strings.ReplaceAll(s, projectPlaceholder, project)
}

// -----------------------------------------------------------------------------
// Project layout
// -----------------------------------------------------------------------------

// Layout returns the address layout of the project. Zarr URLs are prefixed
// with endpointURL.
func (p ProjectConfig) Layout(endpointURL string) cmipcat.Layout {
	layout := cmipcat.NewCMIP6Layout(p.ArchiveDir, endpointURL)
	if names := p.facetNames(); names != nil {
		layout.FacetNames = names
	}
	if p.SplitIndex != nil {
		layout.SplitIndex = *p.SplitIndex
	}
	if p.MemberIndex != nil {
		layout.MemberIndex = *p.MemberIndex
	}
	return layout
}

// facetNames returns the configured names, generated names for a bare
// n_facets, or nil for the CMIP6 default.
func (p ProjectConfig) facetNames() []string {
	if len(p.FacetNames) > 0 {
		return p.FacetNames
	}
	if p.NFacets == 0 || p.NFacets == len(cmipcat.CMIP6Facets) {
		return nil
	}
	names := make([]string, p.NFacets)
	for i := range names {
		names[i] = fmt.Sprintf("facet_%d", i)
	}
	return names
}

func (p ProjectConfig) validate() error {
	var errs []error
	if p.NFacets < 0 {
		errs = append(errs, fmt.Errorf("n_facets must be positive, got %d", p.NFacets))
	}
	if len(p.FacetNames) > 0 && p.NFacets != 0 && p.NFacets != len(p.FacetNames) {
		errs = append(errs, fmt.Errorf("n_facets is %d but %d facet_names are given", p.NFacets, len(p.FacetNames)))
	}
	if p.ArchiveDir == "" {
		errs = append(errs, errors.New("archive_dir is required"))
	}
	if p.Records[string(cmipcat.KindZarr)] == "" {
		errs = append(errs, errors.New("records.zarr is required"))
	}
	for kind := range p.Records {
		if _, err := cmipcat.ParseRecordKind(kind); err != nil {
			errs = append(errs, fmt.Errorf("records: %w", err))
		}
	}
	if len(errs) == 0 {
		if err := p.Layout("").Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
