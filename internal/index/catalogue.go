package index

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/storage"
)

var csvHeader = []string{"file", "date", "latitude", "longitude"}

// WriteCSV saves the filtered catalogue atomically.
func WriteCSV(path string, rows []argo.CatalogueRow) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write catalogue header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.Path,
			r.RawDate,
			strconv.FormatFloat(r.Latitude, 'f', -1, 64),
			strconv.FormatFloat(r.Longitude, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write catalogue row %s: %w", r.Path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush catalogue: %w", err)
	}

	if _, err := storage.WriteFileAtomic(path, &buf); err != nil {
		return fmt.Errorf("save catalogue: %w", err)
	}
	return nil
}

// ReadCSV loads a catalogue saved by WriteCSV. A missing file is reported
// as *argo.PrerequisiteMissingError.
func ReadCSV(path string) ([]argo.CatalogueRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &argo.PrerequisiteMissingError{Stage: "fetch", Artifact: path, Err: err}
		}
		return nil, fmt.Errorf("read catalogue %s: %w", path, err)
	}

	rows, stats := Parse(data)
	if stats.Dropped > 0 {
		return nil, fmt.Errorf("catalogue %s has %d malformed rows", path, stats.Dropped)
	}
	if stats.InvalidCoordinates > 0 {
		return nil, fmt.Errorf("catalogue %s has %d rows with invalid coordinates, first: %w",
			path, stats.InvalidCoordinates, stats.Invalid[0])
	}
	for i := range rows {
		if ts, err := ParseDate(rows[i].RawDate); err == nil {
			rows[i].Date = ts
		}
	}
	return rows, nil
}

// Summary describes a filtered catalogue.
type Summary struct {
	Profiles int
	Floats   int
	First    time.Time
	Last     time.Time
	LatMin   float64
	LatMax   float64
	LonMin   float64
	LonMax   float64
	ByYear   map[int]int
}

// Years returns the years present in ByYear in ascending order.
func (s Summary) Years() []int {
	years := make([]int, 0, len(s.ByYear))
	for y := range s.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Summarize computes counts and ranges of rows. Rows without a Date are
// counted but do not affect the date range.
func Summarize(rows []argo.CatalogueRow) Summary {
	s := Summary{
		Profiles: len(rows),
		ByYear:   make(map[int]int),
		LatMin:   math.Inf(1),
		LatMax:   math.Inf(-1),
		LonMin:   math.Inf(1),
		LonMax:   math.Inf(-1),
	}
	floats := make(map[string]struct{})

	for _, r := range rows {
		if id := r.FloatID(); id != "" {
			floats[id] = struct{}{}
		}
		s.LatMin = math.Min(s.LatMin, r.Latitude)
		s.LatMax = math.Max(s.LatMax, r.Latitude)
		s.LonMin = math.Min(s.LonMin, r.Longitude)
		s.LonMax = math.Max(s.LonMax, r.Longitude)

		if r.Date.IsZero() {
			continue
		}
		if s.First.IsZero() || r.Date.Before(s.First) {
			s.First = r.Date
		}
		if r.Date.After(s.Last) {
			s.Last = r.Date
		}
		s.ByYear[r.Date.Year()]++
	}

	if len(rows) == 0 {
		s.LatMin, s.LatMax, s.LonMin, s.LonMax = 0, 0, 0, 0
	}
	s.Floats = len(floats)
	return s
}
