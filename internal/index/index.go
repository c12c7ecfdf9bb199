// Package index downloads, parses and filters the ARGO global profile
// catalogue.
package index

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/source"
)

// DateLayout is the timestamp layout used by the catalogue.
const DateLayout = "20060102150405"

// Fetcher downloads the raw catalogue.
type Fetcher struct {
	URL string
	// Timeout bounds the whole download; zero leaves it to ctx.
	Timeout time.Duration
	Logger  *slog.Logger

	http *source.HTTPSource
}

// NewFetcher creates a fetcher for the catalogue at url. opts configure the
// underlying HTTP source (client, User-Agent).
func NewFetcher(url string, timeout time.Duration, logger *slog.Logger, opts ...source.HTTPOption) *Fetcher {
	if logger == nil {
		logger = logging.Component("index")
	}
	return &Fetcher{
		URL:     url,
		Timeout: timeout,
		Logger:  logger,
		http:    source.NewHTTPSource(url, opts...),
	}
}

// Fetch downloads the catalogue. Compressed bodies are decompressed. Any
// failure is returned as *argo.TransientNetworkError or
// *argo.PermanentFetchError; Fetch does not retry.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	start := time.Now()
	body, err := f.http.Get(ctx, f.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &argo.TransientNetworkError{URL: f.URL, Err: fmt.Errorf("read body: %w", err)}
	}

	data, err := source.Decompress(raw)
	if err != nil {
		return nil, &argo.PermanentFetchError{URL: f.URL, Attempts: 1, Err: err}
	}

	f.Logger.Info("catalogue downloaded",
		"url", f.URL,
		"bytes", len(raw),
		"decoded_bytes", len(data),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return data, nil
}

// Close releases idle connections.
func (f *Fetcher) Close() error {
	return f.http.Close()
}

// ParseStats counts what Parse saw.
type ParseStats struct {
	Records int
	Rows    int
	Dropped int
	// InvalidCoordinates counts rows whose position is outside WGS84; their
	// errors wrap argo.ErrInvalidCoordinate and are listed in Invalid.
	InvalidCoordinates int
	Invalid            []error
}

// columns maps the catalogue fields Parse needs to their positions.
type columns struct {
	file, date, lat, lon int
}

var defaultColumns = columns{file: 0, date: 1, lat: 2, lon: 3}

// Parse decodes catalogue text. Lines starting with '#' are comments; a
// header line starting with "file" sets the column positions. Rows whose
// coordinates cannot be parsed are dropped, and rows outside the WGS84
// range are rejected with argo.ErrInvalidCoordinate.
func Parse(data []byte) ([]argo.CatalogueRow, ParseStats) {
	var stats ParseStats
	var rows []argo.CatalogueRow
	cols := defaultColumns

	r := csv.NewReader(bytes.NewReader(data))
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Dropped++
				continue
			}
			break
		}
		stats.Records++

		if len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "file") {
			cols = headerColumns(fields)
			continue
		}

		row, ok := parseRow(fields, cols)
		if !ok {
			stats.Dropped++
			continue
		}
		if _, err := argo.NewPoint(row.Longitude, row.Latitude); err != nil {
			stats.InvalidCoordinates++
			stats.Invalid = append(stats.Invalid, fmt.Errorf("%s: %w", row.Path, err))
			continue
		}
		rows = append(rows, row)
	}

	stats.Rows = len(rows)
	return rows, stats
}

func headerColumns(header []string) columns {
	cols := columns{file: -1, date: -1, lat: -1, lon: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "file":
			cols.file = i
		case "date":
			cols.date = i
		case "latitude":
			cols.lat = i
		case "longitude":
			cols.lon = i
		}
	}
	if cols.file < 0 || cols.date < 0 || cols.lat < 0 || cols.lon < 0 {
		return defaultColumns
	}
	return cols
}

func parseRow(fields []string, cols columns) (argo.CatalogueRow, bool) {
	need := max(cols.file, cols.date, cols.lat, cols.lon)
	if len(fields) <= need {
		return argo.CatalogueRow{}, false
	}
	path := strings.TrimSpace(fields[cols.file])
	if path == "" {
		return argo.CatalogueRow{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[cols.lat]), 64)
	if err != nil {
		return argo.CatalogueRow{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[cols.lon]), 64)
	if err != nil {
		return argo.CatalogueRow{}, false
	}
	return argo.CatalogueRow{
		Path:      path,
		Latitude:  lat,
		Longitude: lon,
		RawDate:   strings.TrimSpace(fields[cols.date]),
	}, true
}

// Bounds is an inclusive geographic box.
type Bounds struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Contains reports whether the coordinate lies inside the box, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// DateRange is an inclusive range of whole days. End covers the entire day.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls on or after the start day and on or
// before the end day.
func (r DateRange) Contains(t time.Time) bool {
	start := truncateDay(r.Start)
	endExclusive := truncateDay(r.End).AddDate(0, 0, 1)
	return !t.Before(start) && t.Before(endExclusive)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FilterStats counts why rows were removed.
type FilterStats struct {
	Input       int
	BadDate     int
	OutOfBounds int
	OutOfRange  int
	Kept        int
}

// Filter keeps rows inside bounds and dates, preserving order. Rows with a
// malformed timestamp are dropped and counted. Each kept row has Date set.
func Filter(rows []argo.CatalogueRow, bounds Bounds, dates DateRange) ([]argo.CatalogueRow, FilterStats) {
	stats := FilterStats{Input: len(rows)}
	kept := make([]argo.CatalogueRow, 0, len(rows))

	for _, row := range rows {
		ts, err := ParseDate(row.RawDate)
		if err != nil {
			stats.BadDate++
			continue
		}
		if !bounds.Contains(row.Latitude, row.Longitude) {
			stats.OutOfBounds++
			continue
		}
		if !dates.Contains(ts) {
			stats.OutOfRange++
			continue
		}
		row.Date = ts
		kept = append(kept, row)
	}

	stats.Kept = len(kept)
	return kept, stats
}

var errEmptyDate = errors.New("empty date")

// ParseDate decodes a catalogue timestamp as UTC.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errEmptyDate
	}
	return time.ParseInLocation(DateLayout, raw, time.UTC)
}
