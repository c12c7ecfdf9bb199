package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/qc"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/store"
)

func f64(v float64) *float64 { return &v }

var day = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func fixture() ([]argo.Float, []argo.Profile, []argo.Measurement) {
	floats := []argo.Float{
		{ID: "100", Status: argo.StatusActive},
		{ID: "200", Status: argo.StatusActive},
	}
	var profiles []argo.Profile
	var ms []argo.Measurement
	for _, fid := range []string{"100", "200"} {
		for cycle := 1; cycle <= 3; cycle++ {
			pid := argo.ProfileID(fid, cycle)
			profiles = append(profiles, argo.Profile{
				ID: pid, FloatID: fid, Cycle: cycle,
				Latitude: -10, Longitude: 75, Date: day,
				Levels: 4, SourceFile: "/raw/" + fid + "/profiles/R" + pid + ".nc",
			})
			for lvl := 0; lvl < 4; lvl++ {
				ms = append(ms, argo.Measurement{
					ProfileID: pid, Level: lvl,
					Pressure: f64(float64(lvl * 10)), Temperature: f64(25),
					PressureQC: qc.OK('1'), TemperatureQC: qc.OK('1'), SalinityQC: qc.Missing(),
				})
			}
		}
	}
	return floats, profiles, ms
}

func counts(t *testing.T, s store.Store) store.Stats {
	t.Helper()
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	return st
}

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	l := New(s, Options{BatchSize: 2, MeasurementBatchSize: 5, Analyze: true}, logging.Discard())
	floats, profiles, ms := fixture()

	first, err := l.Load(ctx, floats, profiles, ms)
	require.NoError(t, err)
	assert.Equal(t, TableReport{Inserted: 2}, first.Floats)
	assert.Equal(t, TableReport{Inserted: 6}, first.Profiles)
	assert.Equal(t, TableReport{Inserted: 24}, first.Measurements)
	assert.Zero(t, first.Failed())
	assert.Equal(t, 1, s.Analyzed)

	before := counts(t, s)

	second, err := l.Load(ctx, floats, profiles, ms)
	require.NoError(t, err)
	assert.Zero(t, second.Inserted())
	assert.Equal(t, 32, second.Skipped())
	assert.Equal(t, before, counts(t, s))
}

func TestLoadBatchesByConfiguredSize(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s, Options{BatchSize: 4, MeasurementBatchSize: 10}, logging.Discard())
	floats, profiles, ms := fixture()

	_, err := l.Load(context.Background(), floats, profiles, ms)
	require.NoError(t, err)
	// 1 float batch + 2 profile batches + 3 measurement batches.
	assert.Equal(t, 6, s.Calls)
	assert.Zero(t, s.Analyzed)
}

func TestLoadExcludesBadQCAndCommitsSiblings(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s, Options{}, logging.Discard())
	floats, profiles, ms := fixture()
	ms[1].TemperatureQC = qc.Unrecognized("X")

	rep, err := l.Load(context.Background(), floats, profiles, ms)
	require.NoError(t, err)

	assert.Equal(t, 23, rep.Measurements.Inserted)
	assert.Equal(t, 1, rep.Measurements.Failed)
	require.Len(t, rep.Errors, 1)

	ie := rep.Errors[0]
	assert.Equal(t, store.TableMeasurements, ie.Table)
	assert.Equal(t, "100_001#1", ie.Key)
	assert.Equal(t, "/raw/100/profiles/R100_001.nc", ie.Source)
	assert.True(t, errors.Is(ie, argo.ErrUnrecognizedQC))

	_, ok := s.Measurement("100_001", 1)
	assert.False(t, ok)
	_, ok = s.Measurement("100_001", 2)
	assert.True(t, ok)
}

func TestLoadRejectsInvalidProfilesAndTheirMeasurements(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s, Options{}, logging.Discard())
	floats, profiles, ms := fixture()
	profiles[0].Latitude = 120
	profiles[1].Date = time.Time{}

	rep, err := l.Load(context.Background(), floats, profiles, ms)
	require.NoError(t, err)

	assert.Equal(t, TableReport{Inserted: 4, Failed: 2}, rep.Profiles)
	assert.Equal(t, TableReport{Inserted: 16, Failed: 8}, rep.Measurements)

	var coord, ts, parent int
	for _, e := range rep.Errors {
		switch {
		case errors.Is(e, argo.ErrInvalidCoordinate):
			coord++
		case errors.Is(e, argo.ErrMissingTimestamp):
			ts++
		case errors.Is(e, ErrParentRejected):
			parent++
		}
	}
	assert.Equal(t, 1, coord)
	assert.Equal(t, 1, ts)
	assert.Equal(t, 8, parent)
}

func TestLoadRejectedFloatCascades(t *testing.T) {
	s := store.NewMemoryStore()
	s.FailKeys["200"] = true
	l := New(s, Options{}, logging.Discard())
	floats, profiles, ms := fixture()

	rep, err := l.Load(context.Background(), floats, profiles, ms)
	require.NoError(t, err)
	assert.Equal(t, TableReport{Inserted: 1, Failed: 1}, rep.Floats)
	assert.Equal(t, TableReport{Inserted: 3, Failed: 3}, rep.Profiles)
	assert.Equal(t, TableReport{Inserted: 12, Failed: 12}, rep.Measurements)
}

func TestLoadStoreRowFailuresBecomeIntegrityErrors(t *testing.T) {
	s := store.NewMemoryStore()
	s.FailKeys["100_002#3"] = true
	l := New(s, Options{}, logging.Discard())
	floats, profiles, ms := fixture()

	rep, err := l.Load(context.Background(), floats, profiles, ms)
	require.NoError(t, err)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "100_002#3", rep.Errors[0].Key)
	assert.True(t, errors.Is(rep.Errors[0], store.ErrCheck))
	assert.Equal(t, 23, rep.Measurements.Inserted)
}

func TestLoadAbortsOnStoreError(t *testing.T) {
	s := store.NewMemoryStore()
	s.Err = errors.New("connection refused")
	l := New(s, Options{Analyze: true}, logging.Discard())
	floats, profiles, ms := fixture()

	_, err := l.Load(context.Background(), floats, profiles, ms)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Zero(t, s.Analyzed)
}

func TestValidateMeasurement(t *testing.T) {
	assert.ErrorIs(t, validateMeasurement(argo.Measurement{ProfileID: "p", Level: 0}), ErrNoValue)
	assert.ErrorIs(t, validateMeasurement(argo.Measurement{ProfileID: "p", Level: -1, Pressure: f64(1)}), ErrNegativeIndex)
	assert.ErrorIs(t, validateMeasurement(argo.Measurement{Level: 0, Pressure: f64(1)}), ErrEmptyKey)
	assert.NoError(t, validateMeasurement(argo.Measurement{ProfileID: "p", Salinity: f64(35)}))
}

func TestValidateFloat(t *testing.T) {
	assert.NoError(t, validateFloat(argo.Float{ID: "1", Status: argo.StatusLost}))
	assert.ErrorIs(t, validateFloat(argo.Float{ID: "1", Status: "DRIFTING"}), ErrInvalidStatus)
	assert.ErrorIs(t, validateFloat(argo.Float{Status: argo.StatusActive}), ErrEmptyKey)
}
