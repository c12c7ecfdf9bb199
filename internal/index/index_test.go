package index

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/source"
)

const sampleCatalogue = `# Title : Profile directory file of the Argo Global Data Assembly Center
# Description : The directory file describes all individual profile files of the argo GDAC ftp site.
# Project : ARGO
file,date,latitude,longitude,ocean,profiler_type,institution,date_update
incois/2901234/profiles/R2901234_001.nc,20210615120000,-10.5,85.2,I,846,IN,20210701000000
aoml/1900001/profiles/R1900001_010.nc,20210615120000,45.0,-30.0,A,845,AO,20210701000000
incois/2901235/profiles/R2901235_003.nc,20190101000000,0.0,70.0,I,846,IN,20190201000000
`

var (
	testBounds = Bounds{LatMin: -40, LatMax: 30, LonMin: 20, LonMax: 120}
	testDates  = DateRange{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
)

func TestParseAndFilterCatalogue(t *testing.T) {
	rows, stats := Parse([]byte(sampleCatalogue))
	require.Len(t, rows, 3)
	assert.Equal(t, 4, stats.Records)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 0, stats.Dropped)
	assert.Zero(t, stats.InvalidCoordinates)

	kept, fstats := Filter(rows, testBounds, testDates)
	require.Len(t, kept, 1)
	assert.Equal(t, "incois/2901234/profiles/R2901234_001.nc", kept[0].Path)
	assert.Equal(t, time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC), kept[0].Date)
	assert.Equal(t, 1, fstats.OutOfBounds)
	assert.Equal(t, 1, fstats.OutOfRange)
	assert.Equal(t, 1, fstats.Kept)
}

func TestParseHonoursHeaderOrder(t *testing.T) {
	data := "latitude,longitude,file,date\n1.5,30.25,dac/1/profiles/R1_001.nc,20220101000000\n"
	rows, _ := Parse([]byte(data))
	require.Len(t, rows, 1)
	assert.Equal(t, "dac/1/profiles/R1_001.nc", rows[0].Path)
	assert.Equal(t, 1.5, rows[0].Latitude)
	assert.Equal(t, 30.25, rows[0].Longitude)
}

func TestParseDropsBadCoordinates(t *testing.T) {
	data := "file,date,latitude,longitude\na/1/p/x.nc,20220101000000,,10\na/2/p/y.nc,20220101000000,5,abc\na/3/p/z.nc,20220101000000,5,10\n"
	rows, stats := Parse([]byte(data))
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, stats.Dropped)
}

func TestParseRejectsCoordinatesOutsideWGS84(t *testing.T) {
	data := "file,date,latitude,longitude\n" +
		"a/1/profiles/R1_001.nc,20210101000000,95.0,200.0\n" +
		"a/1/profiles/R1_002.nc,20210101000000,-90,-180\n" +
		"a/1/profiles/R1_003.nc,20210101000000,10,180.5\n"
	rows, stats := Parse([]byte(data))

	require.Len(t, rows, 1)
	assert.Equal(t, "a/1/profiles/R1_002.nc", rows[0].Path)
	assert.Equal(t, 2, stats.InvalidCoordinates)
	require.Len(t, stats.Invalid, 2)
	for _, err := range stats.Invalid {
		assert.ErrorIs(t, err, argo.ErrInvalidCoordinate)
	}
	assert.Contains(t, stats.Invalid[0].Error(), "a/1/profiles/R1_001.nc")

	wide := Bounds{LatMin: -1000, LatMax: 1000, LonMin: -1000, LonMax: 1000}
	kept, _ := Filter(rows, wide, testDates)
	require.Len(t, kept, 1)
	assert.Equal(t, "a/1/profiles/R1_002.nc", kept[0].Path)
}

func TestParseHandlesCommentsBlankLinesAndQuotes(t *testing.T) {
	data := "# header comment\n\nfile,date,latitude,longitude\n\"a/1/profiles/R1_001.nc\",20210101000000,1,2\n# trailing\n"
	rows, stats := Parse([]byte(data))
	require.Len(t, rows, 1)
	assert.Equal(t, "a/1/profiles/R1_001.nc", rows[0].Path)
	assert.Equal(t, 2, stats.Records)
}

func TestFilterEdges(t *testing.T) {
	rows := []argo.CatalogueRow{
		{Path: "a/1/p/edge-lat.nc", Latitude: -40, Longitude: 20, RawDate: "20200101000000"},
		{Path: "a/1/p/edge-end.nc", Latitude: 30, Longitude: 120, RawDate: "20241231235959"},
		{Path: "a/1/p/after.nc", Latitude: 0, Longitude: 50, RawDate: "20250101000000"},
		{Path: "a/1/p/before.nc", Latitude: 0, Longitude: 50, RawDate: "20191231235959"},
		{Path: "a/1/p/malformed.nc", Latitude: 0, Longitude: 50, RawDate: "2021-06-01"},
		{Path: "a/1/p/empty.nc", Latitude: 0, Longitude: 50, RawDate: ""},
	}
	kept, stats := Filter(rows, testBounds, testDates)

	var paths []string
	for _, r := range kept {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"a/1/p/edge-lat.nc", "a/1/p/edge-end.nc"}, paths)
	assert.Equal(t, 2, stats.BadDate)
	assert.Equal(t, 2, stats.OutOfRange)
}

func TestFetchDecompressesGzip(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(sampleCatalogue))
	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gz.Bytes())
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/ar_index_global_prof.txt.gz", 5*time.Second, logging.Discard())
	data, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleCatalogue, string(data))
}

func TestFetchReportsTypedErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, time.Second, logging.Discard())
	_, err := f.Fetch(context.Background())
	assert.True(t, argo.IsTransient(err), "got %v", err)

	status = http.StatusForbidden
	_, err = f.Fetch(context.Background())
	var permanent *argo.PermanentFetchError
	assert.True(t, errors.As(err, &permanent), "got %v", err)
}

func TestCSVRoundTrip(t *testing.T) {
	rows, _ := Parse([]byte(sampleCatalogue))
	kept, _ := Filter(rows, testBounds, testDates)

	path := filepath.Join(t.TempDir(), "processed", "argo_index_filtered.csv")
	require.NoError(t, WriteCSV(path, kept))

	back, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, kept, back)
}

func TestReadCSVRejectsInvalidCoordinates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argo_index_filtered.csv")
	require.NoError(t, WriteCSV(path, []argo.CatalogueRow{
		{Path: "a/1/profiles/R1_001.nc", RawDate: "20210101000000", Latitude: 91, Longitude: 0},
	}))

	_, err := ReadCSV(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, argo.ErrInvalidCoordinate)
}

func TestFetchSendsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Write([]byte(sampleCatalogue))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, 0, logging.Discard(), source.WithUserAgent("argo-pipeline/test"))
	defer f.Close()
	_, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "argo-pipeline/test", got)
}

func TestFetchHeaderTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(srv.URL, 0, logging.Discard(), source.WithClient(source.HeaderTimeoutClient(50*time.Millisecond)))
	_, err := f.Fetch(context.Background())
	assert.True(t, argo.IsTransient(err), "got %v", err)
}

func TestFetchWithoutTimeoutReadsSlowBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCatalogue[:20]))
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte(sampleCatalogue[20:]))
	}))
	defer srv.Close()

	// The header limit must not cut off a body that keeps arriving.
	f := NewFetcher(srv.URL, 0, logging.Discard(), source.WithClient(source.HeaderTimeoutClient(100*time.Millisecond)))
	data, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleCatalogue, string(data))
}

func TestReadCSVMissingIsPrerequisiteError(t *testing.T) {
	_, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	var prereq *argo.PrerequisiteMissingError
	require.True(t, errors.As(err, &prereq), "got %v", err)
	assert.Equal(t, "fetch", prereq.Stage)
}

func TestSummarize(t *testing.T) {
	rows := []argo.CatalogueRow{
		{Path: "incois/1/profiles/R1_001.nc", Latitude: -5, Longitude: 60, Date: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Path: "incois/1/profiles/R1_002.nc", Latitude: 5, Longitude: 70, Date: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)},
		{Path: "incois/2/profiles/R2_001.nc", Latitude: 0, Longitude: 65, Date: time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)},
	}
	s := Summarize(rows)
	assert.Equal(t, 3, s.Profiles)
	assert.Equal(t, 2, s.Floats)
	assert.Equal(t, -5.0, s.LatMin)
	assert.Equal(t, 70.0, s.LonMax)
	assert.Equal(t, rows[0].Date, s.First)
	assert.Equal(t, rows[2].Date, s.Last)
	assert.Equal(t, []int{2021, 2022}, s.Years())
	assert.Equal(t, 2, s.ByYear[2022])

	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Profiles)
	assert.Equal(t, 0.0, empty.LatMin)
}
