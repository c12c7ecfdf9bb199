// Package loader validates parsed entities and writes them to the store in
// referential order: floats, then profiles, then measurements.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/metrics"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/store"
)

// Validation failures that are not covered by the argo sentinels.
var (
	ErrEmptyKey       = errors.New("empty key")
	ErrInvalidStatus  = errors.New("invalid float status")
	ErrNegativeIndex  = errors.New("negative cycle or level")
	ErrNoValue        = errors.New("no measured value")
	ErrParentRejected = errors.New("parent record rejected")
)

// Options tunes batching.
type Options struct {
	BatchSize            int // floats and profiles per transaction
	MeasurementBatchSize int
	Analyze              bool
}

// TableReport counts the outcome of one table.
type TableReport struct {
	Inserted int
	Skipped  int
	Failed   int
}

func (t *TableReport) add(res store.BatchResult) {
	t.Inserted += res.Inserted
	t.Skipped += res.Skipped
	t.Failed += len(res.Failed)
}

// Report is the outcome of Load.
type Report struct {
	Floats       TableReport
	Profiles     TableReport
	Measurements TableReport
	Errors       []*argo.IntegrityError
	Duration     time.Duration
}

func (r Report) Inserted() int {
	return r.Floats.Inserted + r.Profiles.Inserted + r.Measurements.Inserted
}

func (r Report) Skipped() int {
	return r.Floats.Skipped + r.Profiles.Skipped + r.Measurements.Skipped
}

func (r Report) Failed() int {
	return r.Floats.Failed + r.Profiles.Failed + r.Measurements.Failed
}

// Loader writes batches to a Store.
type Loader struct {
	store store.Store
	opts  Options
	log   *slog.Logger
}

// New creates a loader.
func New(s store.Store, opts Options, logger *slog.Logger) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.MeasurementBatchSize <= 0 {
		opts.MeasurementBatchSize = 5000
	}
	if logger == nil {
		logger = logging.Component("loader")
	}
	return &Loader{store: s, opts: opts, log: logger}
}

// run tracks state across the three tables of one Load call.
type run struct {
	l        *Loader
	report   Report
	rejected map[string]bool // float and profile ids excluded so far
	sources  map[string]string
}

func (r *run) reject(table, key, source string, err error) {
	ie := &argo.IntegrityError{Table: table, Key: key, Source: source, Err: err}
	r.report.Errors = append(r.report.Errors, ie)
	r.l.log.Warn("record rejected", "table", table, "key", key, "source", source, "error", err)
}

// Load validates and inserts the entities. Invalid or constraint-violating
// records are excluded and reported; an error is returned only when the
// store itself fails, in which case earlier batches stay committed.
func (l *Loader) Load(ctx context.Context, floats []argo.Float, profiles []argo.Profile, ms []argo.Measurement) (Report, error) {
	start := time.Now()
	r := &run{
		l:        l,
		rejected: make(map[string]bool),
		sources:  make(map[string]string, len(profiles)),
	}
	for _, p := range profiles {
		r.sources[p.ID] = p.SourceFile
	}

	err := r.loadFloats(ctx, floats)
	if err == nil {
		err = r.loadProfiles(ctx, profiles)
	}
	if err == nil {
		err = r.loadMeasurements(ctx, ms)
	}
	r.report.Duration = time.Since(start)

	if m := metrics.Get(); m != nil {
		for table, t := range map[string]TableReport{
			store.TableFloats:       r.report.Floats,
			store.TableProfiles:     r.report.Profiles,
			store.TableMeasurements: r.report.Measurements,
		} {
			m.AddRowsLoaded(table, "inserted", t.Inserted)
			m.AddRowsLoaded(table, "skipped", t.Skipped)
			m.AddRowsLoaded(table, "failed", t.Failed)
		}
	}

	if err != nil {
		return r.report, err
	}

	if l.opts.Analyze {
		if err := l.store.Analyze(ctx); err != nil {
			l.log.Warn("failed to refresh statistics", "error", err)
		}
	}

	l.log.Info("load complete",
		"inserted", humanize.Comma(int64(r.report.Inserted())),
		"skipped", humanize.Comma(int64(r.report.Skipped())),
		"failed", humanize.Comma(int64(r.report.Failed())),
		"duration", r.report.Duration.String(),
	)
	return r.report, nil
}

func (r *run) loadFloats(ctx context.Context, floats []argo.Float) error {
	valid := make([]argo.Float, 0, len(floats))
	for _, f := range floats {
		if err := validateFloat(f); err != nil {
			r.report.Floats.Failed++
			r.rejected[f.ID] = true
			r.reject(store.TableFloats, f.ID, "", err)
			continue
		}
		valid = append(valid, f)
	}

	return chunks(valid, r.l.opts.BatchSize, func(batch []argo.Float) error {
		res, err := r.l.store.InsertFloats(ctx, batch)
		if err != nil {
			return fmt.Errorf("insert floats: %w", err)
		}
		r.report.Floats.add(res)
		for _, fe := range res.Failed {
			r.rejected[fe.Key] = true
			r.reject(store.TableFloats, fe.Key, "", fe.Err)
		}
		return nil
	})
}

func (r *run) loadProfiles(ctx context.Context, profiles []argo.Profile) error {
	valid := make([]argo.Profile, 0, len(profiles))
	for _, p := range profiles {
		err := validateProfile(p)
		if err == nil && r.rejected[p.FloatID] {
			err = fmt.Errorf("%w: float %s", ErrParentRejected, p.FloatID)
		}
		if err != nil {
			r.report.Profiles.Failed++
			r.rejected[p.ID] = true
			r.reject(store.TableProfiles, p.ID, p.SourceFile, err)
			continue
		}
		valid = append(valid, p)
	}

	return chunks(valid, r.l.opts.BatchSize, func(batch []argo.Profile) error {
		res, err := r.l.store.InsertProfiles(ctx, batch)
		if err != nil {
			return fmt.Errorf("insert profiles: %w", err)
		}
		r.report.Profiles.add(res)
		for _, fe := range res.Failed {
			r.rejected[fe.Key] = true
			r.reject(store.TableProfiles, fe.Key, r.sources[fe.Key], fe.Err)
		}
		r.l.log.Debug("profile batch committed", "rows", len(batch), "inserted", res.Inserted)
		return nil
	})
}

func (r *run) loadMeasurements(ctx context.Context, ms []argo.Measurement) error {
	valid := make([]argo.Measurement, 0, len(ms))
	for _, m := range ms {
		err := validateMeasurement(m)
		if err == nil && r.rejected[m.ProfileID] {
			err = fmt.Errorf("%w: profile %s", ErrParentRejected, m.ProfileID)
		}
		if err != nil {
			r.report.Measurements.Failed++
			r.reject(store.TableMeasurements, m.Key(), r.sources[m.ProfileID], err)
			continue
		}
		valid = append(valid, m)
	}

	done := 0
	return chunks(valid, r.l.opts.MeasurementBatchSize, func(batch []argo.Measurement) error {
		res, err := r.l.store.InsertMeasurements(ctx, batch)
		if err != nil {
			return fmt.Errorf("insert measurements: %w", err)
		}
		r.report.Measurements.add(res)
		for _, fe := range res.Failed {
			r.reject(store.TableMeasurements, fe.Key, "", fe.Err)
		}
		done += len(batch)
		r.l.log.Info("measurement progress",
			"loaded", humanize.Comma(int64(done)),
			"total", humanize.Comma(int64(len(valid))),
		)
		return nil
	})
}

// chunks calls fn for consecutive slices of at most size items, stopping at
// the first error.
func chunks[T any](items []T, size int, fn func([]T) error) error {
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}
