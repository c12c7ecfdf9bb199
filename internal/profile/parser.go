// Package profile decodes ARGO profile NetCDF files into floats, profiles
// and measurements.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/metrics"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/qc"
)

// Variable names of the ARGO profile format.
const (
	varLatitude  = "LATITUDE"
	varLongitude = "LONGITUDE"
	varJuld      = "JULD"
	varCycle     = "CYCLE_NUMBER"
	varPlatform  = "PLATFORM_NUMBER"
	varPres      = "PRES"
	varTemp      = "TEMP"
	varPsal      = "PSAL"
	varPresQC    = "PRES_QC"
	varTempQC    = "TEMP_QC"
	varPsalQC    = "PSAL_QC"
)

// JuldEpoch is the reference time of JULD (days since).
var JuldEpoch = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// Parser decodes profile files.
type Parser struct {
	log  *slog.Logger
	open opener
}

// NewParser creates a parser reading NetCDF files from disk.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = logging.Component("parser")
	}
	return &Parser{log: logger, open: openNetCDF}
}

// ParseFile decodes one file. Every failure, including a panic inside the
// NetCDF reader, is returned as *argo.ParseError.
func (p *Parser) ParseFile(path string) (pf *argo.ParsedFile, err error) {
	defer func() {
		if r := recover(); r != nil {
			pf = nil
			err = &argo.ParseError{File: path, Err: fmt.Errorf("malformed file: %v", r)}
		}
	}()

	ds, err := p.open(path)
	if err != nil {
		return nil, &argo.ParseError{File: path, Err: err}
	}
	defer ds.Close()

	pf, err = decodeFile(ds, path)
	if err != nil {
		return nil, &argo.ParseError{File: path, Err: err}
	}
	return pf, nil
}

func requireVar(ds dataset, name string) (*variable, error) {
	v, ok, err := ds.Var(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("missing variable %s", name)
	}
	return v, nil
}

func optionalVar(ds dataset, name string) (*variable, error) {
	v, ok, err := ds.Var(name)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

// decodeFile turns a dataset into entities. Both the single-profile shape
// (scalars and flat level arrays) and the N_PROF x N_LEVELS shape work.
func decodeFile(ds dataset, path string) (*argo.ParsedFile, error) {
	latVar, err := requireVar(ds, varLatitude)
	if err != nil {
		return nil, err
	}
	lonVar, err := requireVar(ds, varLongitude)
	if err != nil {
		return nil, err
	}
	juldVar, err := requireVar(ds, varJuld)
	if err != nil {
		return nil, err
	}
	presVar, err := requireVar(ds, varPres)
	if err != nil {
		return nil, err
	}

	lats, err := profileFloats(latVar, defaultFill)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", varLatitude, err)
	}
	nProf := len(lats)
	if nProf == 0 {
		return nil, argo.ErrNoProfiles
	}

	lons, err := profileFloats(lonVar, defaultFill)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", varLongitude, err)
	}
	julds, err := profileFloats(juldVar, juldFill)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", varJuld, err)
	}
	if len(lons) != nProf || len(julds) != nProf {
		return nil, fmt.Errorf("profile dimension mismatch: %d latitudes, %d longitudes, %d dates",
			nProf, len(lons), len(julds))
	}

	var cycles []float64
	if cv, err := optionalVar(ds, varCycle); err != nil {
		return nil, err
	} else if cv != nil {
		if cycles, err = profileFloats(cv, defaultFill); err != nil {
			return nil, fmt.Errorf("%s: %w", varCycle, err)
		}
	}

	var platforms []string
	if pv, err := optionalVar(ds, varPlatform); err != nil {
		return nil, err
	} else if pv != nil {
		platforms = profileStrings(pv)
	}

	floatID := floatIDFromPath(path)
	if floatID == "" {
		for _, p := range platforms {
			if p != "" {
				floatID = p
				break
			}
		}
	}
	if floatID == "" {
		floatID = fallbackFloatID(path)
	}
	if floatID == "" {
		return nil, errors.New("cannot determine float id")
	}

	pres, err := levelFloats(presVar, nProf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", varPres, err)
	}
	if len(pres) != nProf {
		return nil, fmt.Errorf("%s has %d profiles, expected %d", varPres, len(pres), nProf)
	}
	temp, err := optionalLevels(ds, varTemp, nProf)
	if err != nil {
		return nil, err
	}
	psal, err := optionalLevels(ds, varPsal, nProf)
	if err != nil {
		return nil, err
	}

	presQC, err := optionalQC(ds, varPresQC, nProf)
	if err != nil {
		return nil, err
	}
	tempQC, err := optionalQC(ds, varTempQC, nProf)
	if err != nil {
		return nil, err
	}
	psalQC, err := optionalQC(ds, varPsalQC, nProf)
	if err != nil {
		return nil, err
	}

	nLevels, ok := ds.Dim("N_LEVELS")
	if !ok {
		for _, row := range pres {
			nLevels = max(nLevels, len(row))
		}
	}

	out := &argo.ParsedFile{
		Path:  path,
		Float: argo.Float{ID: floatID, Status: argo.StatusActive},
	}

	for i := 0; i < nProf; i++ {
		cycle := i
		if i < len(cycles) && !math.IsNaN(cycles[i]) && cycles[i] >= 0 {
			cycle = int(cycles[i])
		}
		profileID := argo.ProfileID(floatID, cycle)

		out.Profiles = append(out.Profiles, argo.Profile{
			ID:         profileID,
			FloatID:    floatID,
			Cycle:      cycle,
			Latitude:   lats[i],
			Longitude:  lons[i],
			Date:       juldTime(julds[i]),
			Levels:     nLevels,
			SourceFile: path,
		})

		levels := len(pres[i])
		for lvl := 0; lvl < max(levels, nLevels); lvl++ {
			m := argo.Measurement{
				ProfileID:   profileID,
				Level:       lvl,
				Pressure:    optional(at(pres[i], lvl)),
				Temperature: optional(at(row(temp, i), lvl)),
				Salinity:    optional(at(row(psal, i), lvl)),
			}
			if !m.HasValue() {
				continue
			}
			m.PressureQC = flagAt(presQC, i, lvl)
			m.TemperatureQC = flagAt(tempQC, i, lvl)
			m.SalinityQC = flagAt(psalQC, i, lvl)
			out.Measurements = append(out.Measurements, m)
		}
	}

	return out, nil
}

func optionalLevels(ds dataset, name string, nProf int) ([][]float64, error) {
	v, err := optionalVar(ds, name)
	if err != nil || v == nil {
		return nil, err
	}
	rows, err := levelFloats(v, nProf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return rows, nil
}

func optionalQC(ds dataset, name string, nProf int) ([][]any, error) {
	v, err := optionalVar(ds, name)
	if err != nil || v == nil {
		return nil, err
	}
	return qcRows(v, nProf), nil
}

func row(rows [][]float64, i int) []float64 {
	if i < len(rows) {
		return rows[i]
	}
	return nil
}

// flagAt decodes the QC flag of one value. An absent QC variable or a
// short row yields a missing flag.
func flagAt(rows [][]any, prof, level int) qc.Result {
	if prof >= len(rows) || level >= len(rows[prof]) {
		return qc.Missing()
	}
	return qc.Decode(rows[prof][level])
}

// juldTime converts days since JuldEpoch; NaN gives the zero time.
func juldTime(days float64) time.Time {
	if math.IsNaN(days) {
		return time.Time{}
	}
	return JuldEpoch.Add(time.Duration(math.Round(days * float64(24*time.Hour))))
}

// floatIDFromPath returns the platform directory of a file laid out as
// <float>/profiles/<file>.nc, or "" for any other layout.
func floatIDFromPath(path string) string {
	parent := filepath.Dir(path)
	if filepath.Base(parent) != "profiles" {
		return ""
	}
	id := filepath.Base(filepath.Dir(parent))
	if id == "." || id == string(filepath.Separator) {
		return ""
	}
	return id
}

// fallbackFloatID returns the directory two levels above the file.
func fallbackFloatID(path string) string {
	id := filepath.Base(filepath.Dir(filepath.Dir(path)))
	if id == "." || id == string(filepath.Separator) {
		return ""
	}
	return id
}

// Result is the outcome of ParseAll.
type Result struct {
	Batch  argo.Batch
	Files  int
	Parsed int
	Failed []*argo.ParseError
}

// Err aggregates the per-file failures, or returns nil.
func (r Result) Err() error {
	var merr *multierror.Error
	for _, f := range r.Failed {
		merr = multierror.Append(merr, f)
	}
	return merr.ErrorOrNil()
}

// ParseAll parses files sequentially, continuing past failures. The error
// is non-nil only when ctx is cancelled.
func (p *Parser) ParseAll(ctx context.Context, paths []string) (Result, error) {
	res := Result{Files: len(paths)}
	seen := make(map[string]bool)
	m := metrics.Get()

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		pf, err := p.ParseFile(path)
		if err != nil {
			var perr *argo.ParseError
			if !errors.As(err, &perr) {
				perr = &argo.ParseError{File: path, Err: err}
			}
			p.log.Warn("failed to parse file", "file", path, "error", perr.Err)
			res.Failed = append(res.Failed, perr)
			if m != nil {
				m.ObserveParsed(0, 0, true)
			}
			continue
		}

		res.Parsed++
		res.Batch.Add(pf, seen)
		if m != nil {
			m.ObserveParsed(len(pf.Profiles), len(pf.Measurements), false)
		}

		if (i+1)%500 == 0 {
			p.log.Info("parse progress", "files", i+1, "total", len(paths))
		}
	}

	if err := res.Err(); err != nil {
		p.log.Warn("some files failed to parse", "failed", len(res.Failed), "error", err)
	}
	return res, nil
}

// FindFiles lists *.nc files below root in lexical order. A missing root is
// reported as *argo.PrerequisiteMissingError.
func FindFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", root)
		}
		return nil, &argo.PrerequisiteMissingError{Stage: "parse", Artifact: root, Err: err}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".nc") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
