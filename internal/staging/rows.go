package staging

import (
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/qc"
)

// FloatRow is one row of the floats table.
type FloatRow struct {
	FloatID string `parquet:"float_id"`
	Status  string `parquet:"status"`
}

// ProfileRow is one row of the profiles table.
type ProfileRow struct {
	ProfileID  string    `parquet:"profile_id"`
	FloatID    string    `parquet:"float_id"`
	Cycle      int32     `parquet:"cycle_number"`
	Latitude   float64   `parquet:"latitude"`
	Longitude  float64   `parquet:"longitude"`
	Date       time.Time `parquet:"profile_date,timestamp(millisecond)"`
	HasDate    bool      `parquet:"has_date"`
	Levels     int32     `parquet:"n_levels"`
	SourceFile string    `parquet:"source_file"`
}

// MeasurementRow is one row of the measurements table. Absent values are
// null; QC flags use the qc.Result string encoding.
type MeasurementRow struct {
	ProfileID     string   `parquet:"profile_id"`
	Level         int32    `parquet:"level"`
	Pressure      *float64 `parquet:"pressure,optional"`
	Temperature   *float64 `parquet:"temperature,optional"`
	Salinity      *float64 `parquet:"salinity,optional"`
	PressureQC    string   `parquet:"pressure_qc"`
	TemperatureQC string   `parquet:"temperature_qc"`
	SalinityQC    string   `parquet:"salinity_qc"`
}

func floatRows(floats []argo.Float) []FloatRow {
	rows := make([]FloatRow, len(floats))
	for i, f := range floats {
		rows[i] = FloatRow{FloatID: f.ID, Status: f.Status}
	}
	return rows
}

func profileRows(profiles []argo.Profile) []ProfileRow {
	rows := make([]ProfileRow, len(profiles))
	for i, p := range profiles {
		rows[i] = ProfileRow{
			ProfileID:  p.ID,
			FloatID:    p.FloatID,
			Cycle:      int32(p.Cycle),
			Latitude:   p.Latitude,
			Longitude:  p.Longitude,
			Date:       p.Date.UTC(),
			HasDate:    !p.Date.IsZero(),
			Levels:     int32(p.Levels),
			SourceFile: p.SourceFile,
		}
	}
	return rows
}

func measurementRows(ms []argo.Measurement) []MeasurementRow {
	rows := make([]MeasurementRow, len(ms))
	for i, m := range ms {
		rows[i] = MeasurementRow{
			ProfileID:     m.ProfileID,
			Level:         int32(m.Level),
			Pressure:      m.Pressure,
			Temperature:   m.Temperature,
			Salinity:      m.Salinity,
			PressureQC:    m.PressureQC.String(),
			TemperatureQC: m.TemperatureQC.String(),
			SalinityQC:    m.SalinityQC.String(),
		}
	}
	return rows
}

func (r FloatRow) toFloat() argo.Float {
	return argo.Float{ID: r.FloatID, Status: r.Status}
}

func (r ProfileRow) toProfile() argo.Profile {
	p := argo.Profile{
		ID:         r.ProfileID,
		FloatID:    r.FloatID,
		Cycle:      int(r.Cycle),
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Levels:     int(r.Levels),
		SourceFile: r.SourceFile,
	}
	if r.HasDate {
		p.Date = r.Date.UTC()
	}
	return p
}

func (r MeasurementRow) toMeasurement() argo.Measurement {
	return argo.Measurement{
		ProfileID:     r.ProfileID,
		Level:         int(r.Level),
		Pressure:      r.Pressure,
		Temperature:   r.Temperature,
		Salinity:      r.Salinity,
		PressureQC:    qc.Decode(r.PressureQC),
		TemperatureQC: qc.Decode(r.TemperatureQC),
		SalinityQC:    qc.Decode(r.SalinityQC),
	}
}
