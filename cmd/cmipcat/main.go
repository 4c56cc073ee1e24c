// cmipcat builds the intake catalog of a project's Zarr datasets.
//
// Usage:
//
//	cmipcat [flags]
//
// The catalog is derived from the project's zarr record snapshot. A JSON
// descriptor and a CSV catalog (and optionally a Parquet copy) are written
// to the configured output store, replacing any previous run.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/pithecene-io/cmipcat/cmipcat"
	"github.com/pithecene-io/cmipcat/internal/backend"
	"github.com/pithecene-io/cmipcat/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line settings of one run.
type options struct {
	configPath  string
	project     string
	limit       int
	metricsFile string
	logLevel    string
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("cmipcat", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to cmipcat.yaml (default: $"+config.EnvConfig+")")
	flagSet.StringVarP(&opts.project, "project", "p", "", "project to catalog (default: config default_project)")
	flagSet.IntVar(&opts.limit, "limit", 0, "stop after this many rows (0: no limit)")
	flagSet.StringVar(&opts.metricsFile, "metrics-file", "", "write build metrics in Prometheus text format to this file")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default: info, or debug with CMIPCAT_DEBUG)")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "cmipcat - build intake catalogs of Zarr datasets\n\nUsage:\n  cmipcat [flags]\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

func newLogger(level string) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if os.Getenv("CMIPCAT_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	if level != "" {
		if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return nil, fmt.Errorf("invalid --log-level %q", level)
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})), nil
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	project := opts.project
	if project == "" {
		project = cfg.DefaultProject
	}
	projectCfg, err := cfg.Project(project)
	if err != nil {
		return err
	}
	logger = logger.With("project", project)

	registry := prometheus.NewRegistry()
	metrics := cmipcat.NewMetrics(registry)
	if opts.metricsFile != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(opts.metricsFile, registry); err != nil {
				logger.Error("failed to write metrics", "path", opts.metricsFile, "error", err)
			}
		}()
	}

	return publish(ctx, cfg, project, projectCfg, opts.limit, logger, metrics)
}

// publish builds the project catalog and writes its artifacts.
func publish(ctx context.Context, cfg *config.Config, project string, projectCfg config.ProjectConfig,
	limit int, logger *slog.Logger, metrics *cmipcat.Metrics) error {
	started := time.Now()
	b := backend.New(cfg, backend.WithLogger(logger))

	records, err := b.OpenRecords(ctx, project, string(cmipcat.KindZarr))
	if err != nil {
		return err
	}
	lister, err := b.OpenLister(ctx, projectCfg.ArchiveDir)
	if err != nil {
		return err
	}
	output, err := b.OpenOutput(ctx)
	if err != nil {
		return err
	}

	builder, err := cmipcat.NewBuilder(projectCfg.Layout(cfg.Store.EndpointURL), lister,
		cmipcat.WithLimit(limit),
		cmipcat.WithLogger(logger),
		cmipcat.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	catalog, err := builder.Build(ctx, records)
	if err != nil {
		return err
	}

	publisher := cmipcat.NewPublisher(output, logger, metrics)
	if err := publisher.Publish(ctx, catalog, cfg.IntakeFor(project).Outputs()); err != nil {
		return err
	}

	logger.Info("catalog published", "rows", catalog.Len(), "elapsed", time.Since(started))
	return nil
}
