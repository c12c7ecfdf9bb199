package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/config"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/metrics"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/pipeline"
)

// app holds flag values and the state PersistentPreRunE builds from them.
type app struct {
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	limit     int
	workers   int
	retries   int

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "argo-pipeline",
		Short: "Mirror, parse and load ARGO float profiles into PostGIS.",
		Long: `argo-pipeline downloads the ARGO global profile index, keeps the profiles
inside the configured region and date range, mirrors their NetCDF files,
decodes them into floats, profiles and measurements, and loads the result
into a PostgreSQL/PostGIS database.

Every stage can run on its own and picks up the artifact of the previous
stage from disk. Re-running a stage skips work that is already done.`,
		Version:       pipeline.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML config file")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format (text or json)")
	pf.IntVar(&a.limit, "limit", 100, "maximum files to fetch, 0 for all")
	pf.IntVar(&a.workers, "workers", 10, "concurrent downloads")
	pf.IntVar(&a.retries, "retries", 3, "retries per download after the first attempt")

	root.AddCommand(
		a.runCmd(),
		a.indexCmd(),
		a.fetchCmd(),
		a.parseCmd(),
		a.loadCmd(),
		a.statsCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and sets up logging.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, a.envFile)
	if err != nil {
		return err
	}
	a.applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.log = logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	a.log.Debug("configuration loaded",
		"version", pipeline.Version,
		"git_sha", pipeline.GitSHA,
		"index_url", cfg.Index.URL,
		"base_url", cfg.Fetch.BaseURL,
		"raw_dir", cfg.Paths.RawDir,
		"processed_dir", cfg.Paths.ProcessedDir,
	)
	return nil
}

// applyFlags copies explicitly set flags over the loaded configuration.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("limit") {
		cfg.Fetch.Limit = a.limit
	}
	if flags.Changed("workers") {
		cfg.Fetch.Workers = a.workers
	}
	if flags.Changed("retries") {
		cfg.Fetch.Retries = a.retries
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
}

// withPipeline builds a pipeline, runs fn and closes it. When metrics are
// enabled the exporter runs alongside fn and stops when fn returns.
func (a *app) withPipeline(ctx context.Context, fn func(context.Context, *pipeline.Pipeline) error) error {
	ctx = logging.WithRunID(ctx, logging.NewRunID())

	p, err := pipeline.Build(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			a.log.Warn("failed to close pipeline", "error", err)
		}
	}()

	if !a.cfg.Metrics.Enabled {
		return fn(ctx, p)
	}

	metrics.Init("argo")
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServer := context.WithCancel(gctx)
	g.Go(func() error {
		a.log.Info("metrics server listening", "addr", a.cfg.Metrics.Addr)
		return metrics.StartServer(serveCtx, a.cfg.Metrics.Addr)
	})
	g.Go(func() error {
		defer stopServer()
		return fn(gctx, p)
	})
	return g.Wait()
}
