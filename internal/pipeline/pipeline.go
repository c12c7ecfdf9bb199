// Package pipeline sequences the index, fetch, parse and load stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/checkpoint"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/config"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/failures"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/fetcher"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/index"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/loader"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/metrics"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/profile"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/source"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/staging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/storage"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/store"
)

// Stage names.
const (
	StageIndex = "index"
	StageFetch = "fetch"
	StageParse = "parse"
	StageLoad  = "load"
)

// Version information (set via ldflags).
var (
	Version = "dev"
	GitSHA  = ""
)

// CatalogueFetcher downloads the raw global index.
type CatalogueFetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FileParser decodes profile files.
type FileParser interface {
	ParseAll(ctx context.Context, paths []string) (profile.Result, error)
}

// StoreOpener connects to the persistent store on first use.
type StoreOpener func(ctx context.Context) (store.Store, error)

// Deps are the collaborators of a pipeline.
type Deps struct {
	Index     CatalogueFetcher
	Source    source.Source
	Ledger    checkpoint.Ledger
	Parser    FileParser
	Staging   storage.AtomicStore
	OpenStore StoreOpener
}

// Options control a run.
type Options struct {
	// Limit caps the number of files the fetch stage schedules; 0 means all.
	Limit int
	// RetryFailed restricts the fetch stage to the URLs of the last
	// failed_downloads.txt.
	RetryFailed bool
}

// StageSummary is the outcome of one stage.
type StageSummary struct {
	Name      string
	Duration  time.Duration
	Succeeded int
	Skipped   int
	Failed    int
}

// Pipeline runs the stages against one configuration.
type Pipeline struct {
	cfg   config.Config
	deps  Deps
	log   *slog.Logger
	store store.Store
}

// New creates a pipeline from explicit collaborators.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Component("pipeline")
	}
	return &Pipeline{cfg: cfg, deps: deps, log: logger}
}

// Build wires the default collaborators described by cfg. The database is
// only contacted when the load stage runs.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Component("pipeline")
	}

	ua := source.WithUserAgent("argo-pipeline/" + Version)
	src, err := source.New(ctx, cfg.Fetch.BaseURL, ua)
	if err != nil {
		return nil, fmt.Errorf("open archive source: %w", err)
	}

	ledger, err := checkpoint.New(checkpoint.Config{Backend: cfg.Fetch.Ledger, Path: cfg.LedgerPath()})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("open fetch ledger: %w", err)
	}

	stage, err := storage.New(storage.Config{
		Backend:    cfg.Staging.Backend,
		LocalDir:   cfg.Paths.ProcessedDir,
		Bucket:     cfg.Staging.Bucket,
		S3Endpoint: cfg.Staging.S3Endpoint,
		S3Region:   cfg.Staging.S3Region,
		Prefix:     cfg.Staging.Prefix,
	})
	if err != nil {
		ledger.Close()
		src.Close()
		return nil, fmt.Errorf("open staging store: %w", err)
	}

	deps := Deps{
		Index: index.NewFetcher(cfg.Index.URL, cfg.Index.Timeout, logger.With("component", "index"),
			ua, source.WithClient(source.HeaderTimeoutClient(cfg.Fetch.Timeout))),
		Source:  src,
		Ledger:  ledger,
		Parser:  profile.NewParser(logger.With("component", "parser")),
		Staging: stage,
		OpenStore: func(ctx context.Context) (store.Store, error) {
			if err := cfg.RequireDatabase(); err != nil {
				return nil, err
			}
			return store.NewPostgresStore(ctx, store.PostgresConfig{
				DSN:      cfg.Database.URL,
				MaxConns: cfg.Database.MaxConns,
			}, logger.With("component", "store"))
		},
	}
	return New(cfg, deps, logger), nil
}

// Close releases every collaborator.
func (p *Pipeline) Close() error {
	var merr *multierror.Error
	if p.store != nil {
		p.store.Close()
	}
	if p.deps.Staging != nil {
		if err := p.deps.Staging.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if p.deps.Ledger != nil {
		if err := p.deps.Ledger.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if p.deps.Source != nil {
		if err := p.deps.Source.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if c, ok := p.deps.Index.(io.Closer); ok {
		if err := c.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Run executes all stages in order. It stops at the first stage error and
// returns the summaries of the stages that ran.
func (p *Pipeline) Run(ctx context.Context, opts Options) ([]StageSummary, error) {
	if logging.RunID(ctx) == "" {
		ctx = logging.WithRunID(ctx, logging.NewRunID())
	}
	log := logging.FromContext(ctx, p.log)
	start := time.Now()
	log.Info("pipeline starting", "limit", opts.Limit)

	stages := []struct {
		name string
		run  func(context.Context) (StageSummary, error)
	}{
		{StageIndex, p.RunIndex},
		{StageFetch, func(ctx context.Context) (StageSummary, error) { return p.RunFetch(ctx, opts) }},
		{StageParse, p.RunParse},
		{StageLoad, p.RunLoad},
	}

	var summaries []StageSummary
	for _, st := range stages {
		sum, err := st.run(ctx)
		summaries = append(summaries, sum)
		if err != nil {
			log.Error("pipeline aborted", "stage", st.name, "error", err)
			return summaries, fmt.Errorf("stage %s: %w", st.name, err)
		}
	}

	log.Info("pipeline complete", "duration", time.Since(start).Round(time.Millisecond))
	return summaries, nil
}

// finish logs and records a stage summary.
func (p *Pipeline) finish(ctx context.Context, sum StageSummary, start time.Time, err error) (StageSummary, error) {
	sum.Duration = time.Since(start)
	if m := metrics.Get(); m != nil {
		m.ObserveStage(sum.Name, sum.Duration, err != nil)
	}
	log := p.stageLog(ctx, sum.Name)
	if err != nil {
		log.Error("stage failed", "error", err, "duration", sum.Duration.Round(time.Millisecond))
		return sum, err
	}
	log.Info("stage complete",
		"succeeded", humanize.Comma(int64(sum.Succeeded)),
		"skipped", humanize.Comma(int64(sum.Skipped)),
		"failed", humanize.Comma(int64(sum.Failed)),
		"duration", sum.Duration.Round(time.Millisecond),
	)
	return sum, nil
}

func (p *Pipeline) stageLog(ctx context.Context, stage string) *slog.Logger {
	return logging.StageLogger(ctx, p.log, stage)
}

// RunIndex downloads the global index, filters it and saves the catalogue.
func (p *Pipeline) RunIndex(ctx context.Context) (StageSummary, error) {
	start := time.Now()
	sum := StageSummary{Name: StageIndex}
	log := p.stageLog(ctx, StageIndex)

	dateStart, dateEnd, err := p.cfg.DateRange()
	if err != nil {
		return p.finish(ctx, sum, start, err)
	}

	raw, err := p.deps.Index.Fetch(ctx)
	if err != nil {
		return p.finish(ctx, sum, start, err)
	}

	rows, parseStats := index.Parse(raw)
	for i, invalid := range parseStats.Invalid {
		if i == 5 {
			log.Warn("more catalogue rows with invalid coordinates", "remaining", len(parseStats.Invalid)-i)
			break
		}
		log.Warn("catalogue row rejected", "error", invalid)
	}
	kept, stats := index.Filter(rows,
		index.Bounds{
			LatMin: p.cfg.Index.LatMin, LatMax: p.cfg.Index.LatMax,
			LonMin: p.cfg.Index.LonMin, LonMax: p.cfg.Index.LonMax,
		},
		index.DateRange{Start: dateStart, End: dateEnd},
	)

	if err := index.WriteCSV(p.cfg.CatalogueFile(), kept); err != nil {
		return p.finish(ctx, sum, start, err)
	}

	summary := index.Summarize(kept)
	log.Info("catalogue filtered",
		"rows", humanize.Comma(int64(stats.Input)),
		"malformed", parseStats.Dropped,
		"invalid_coordinates", parseStats.InvalidCoordinates,
		"bad_date", stats.BadDate,
		"out_of_bounds", humanize.Comma(int64(stats.OutOfBounds)),
		"out_of_range", humanize.Comma(int64(stats.OutOfRange)),
		"kept", humanize.Comma(int64(stats.Kept)),
		"floats", summary.Floats,
		"years", summary.Years(),
		"file", p.cfg.CatalogueFile(),
	)

	sum.Succeeded = stats.Kept
	sum.Skipped = stats.Input - stats.Kept + parseStats.InvalidCoordinates
	return p.finish(ctx, sum, start, nil)
}

// RunFetch mirrors the catalogued files. Per-file failures are written to
// failed_downloads.txt and do not fail the stage.
func (p *Pipeline) RunFetch(ctx context.Context, opts Options) (StageSummary, error) {
	start := time.Now()
	sum := StageSummary{Name: StageFetch}
	log := p.stageLog(ctx, StageFetch)

	rows, err := index.ReadCSV(p.cfg.CatalogueFile())
	if err != nil {
		return p.finish(ctx, sum, start, err)
	}

	manifest := p.cfg.FailureFile(failures.DownloadsFile)
	if opts.RetryFailed {
		prev, err := failures.Read(manifest)
		if err != nil {
			return p.finish(ctx, sum, start, err)
		}
		rows = retryRows(rows, prev, p.deps.Source)
		log.Info("retrying failed downloads", "files", len(rows))
	}

	tasks := fetcher.NewTasks(rows, p.deps.Source, p.cfg.NetCDFDir(), opts.Limit)
	f := fetcher.New(p.deps.Source, p.deps.Ledger, fetcher.Options{
		Workers:        p.cfg.Fetch.Workers,
		Retries:        p.cfg.Fetch.Retries,
		Backoff:        p.cfg.Fetch.Backoff,
		Timeout:        p.cfg.Fetch.Timeout,
		VerifyExisting: p.cfg.Fetch.VerifyExisting,
	}, log)

	report, err := f.FetchAll(ctx, tasks)
	sum.Succeeded = report.Downloaded
	sum.Skipped = report.Skipped
	sum.Failed = len(report.Failed)

	entries := make([]failures.Entry, len(report.Failed))
	for i, fl := range report.Failed {
		entries[i] = failures.Entry{Key: fl.URL, Err: fl.Err.Error()}
	}
	if werr := failures.Write(manifest, entries); werr != nil {
		log.Warn("failed to write failure manifest", "file", manifest, "error", werr)
	} else if len(entries) > 0 {
		log.Warn("some downloads failed", "failed", len(entries), "manifest", manifest)
	}

	log.Info("fetch summary",
		"scheduled", len(tasks),
		"bytes", humanize.Bytes(uint64(report.Bytes)),
	)
	return p.finish(ctx, sum, start, err)
}

// retryRows keeps the catalogue rows whose URL appears in the manifest.
func retryRows(rows []argo.CatalogueRow, prev []failures.Entry, src source.Source) []argo.CatalogueRow {
	want := make(map[string]bool, len(prev))
	for _, e := range prev {
		want[e.Key] = true
	}
	var out []argo.CatalogueRow
	for _, r := range rows {
		if want[src.URL(r.Path)] {
			out = append(out, r)
		}
	}
	return out
}

// RunParse decodes every mirrored file and stages the result.
func (p *Pipeline) RunParse(ctx context.Context) (StageSummary, error) {
	start := time.Now()
	sum := StageSummary{Name: StageParse}
	log := p.stageLog(ctx, StageParse)

	files, err := profile.FindFiles(p.cfg.NetCDFDir())
	if err != nil {
		return p.finish(ctx, sum, start, err)
	}
	if len(files) == 0 {
		return p.finish(ctx, sum, start, &argo.PrerequisiteMissingError{
			Stage:    StageParse,
			Artifact: p.cfg.NetCDFDir(),
			Err:      errors.New("no NetCDF files"),
		})
	}

	res, err := p.deps.Parser.ParseAll(ctx, files)
	sum.Succeeded = res.Parsed
	sum.Failed = len(res.Failed)
	if err != nil {
		return p.finish(ctx, sum, start, err)
	}

	manifest := p.cfg.FailureFile(failures.ParsingFile)
	entries := make([]failures.Entry, len(res.Failed))
	for i, pe := range res.Failed {
		entries[i] = failures.Entry{Key: pe.File, Err: pe.Err.Error()}
	}
	if err := failures.Write(manifest, entries); err != nil {
		log.Warn("failed to write failure manifest", "file", manifest, "error", err)
	}

	runID := logging.RunID(ctx)
	if runID == "" {
		runID = logging.NewRunID()
	}
	w := staging.NewWriter(p.deps.Staging, staging.ProducerInfo{
		Name:    "argo-pipeline",
		Version: Version,
		GitSHA:  GitSHA,
	}, log)
	if _, err := w.Write(ctx, res.Batch, runID); err != nil {
		return p.finish(ctx, sum, start, fmt.Errorf("stage batch: %w", err))
	}

	log.Info("parse summary",
		"files", len(files),
		"floats", len(res.Batch.Floats),
		"profiles", humanize.Comma(int64(len(res.Batch.Profiles))),
		"measurements", humanize.Comma(int64(len(res.Batch.Measurements))),
	)
	return p.finish(ctx, sum, start, nil)
}

// RunLoad writes the staged batch to the persistent store.
func (p *Pipeline) RunLoad(ctx context.Context) (StageSummary, error) {
	start := time.Now()
	sum := StageSummary{Name: StageLoad}
	log := p.stageLog(ctx, StageLoad)

	batch, manifest, err := staging.Read(ctx, p.deps.Staging)
	if err != nil {
		return p.finish(ctx, sum, start, err)
	}
	log.Info("staged batch found", "run_id", manifest.RunID, "created_at", manifest.CreatedAt)

	st, err := p.Store(ctx)
	if err != nil {
		return p.finish(ctx, sum, start, err)
	}

	l := loader.New(st, loader.Options{
		BatchSize:            p.cfg.Database.BatchSize,
		MeasurementBatchSize: p.cfg.Database.MeasurementBatchSize,
		Analyze:              p.cfg.Database.Analyze,
	}, log)
	report, err := l.Load(ctx, batch.Floats, batch.Profiles, batch.Measurements)
	sum.Succeeded = report.Inserted()
	sum.Skipped = report.Skipped()
	sum.Failed = report.Failed()

	file := p.cfg.FailureFile(failures.RecordsFile)
	entries := make([]failures.Entry, len(report.Errors))
	for i, ie := range report.Errors {
		entries[i] = failures.Entry{Key: ie.Table + ":" + ie.Key, Err: ie.Error()}
	}
	if werr := failures.Write(file, entries); werr != nil {
		log.Warn("failed to write failure manifest", "file", file, "error", werr)
	}

	return p.finish(ctx, sum, start, err)
}

// Store returns the persistent store, connecting on first use.
func (p *Pipeline) Store(ctx context.Context) (store.Store, error) {
	if p.store != nil {
		return p.store, nil
	}
	if p.deps.OpenStore == nil {
		return nil, errors.New("no store configured")
	}
	st, err := p.deps.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	p.store = st
	return st, nil
}

// UseStore replaces the store the load stage writes to.
func (p *Pipeline) UseStore(s store.Store) {
	p.store = s
}
