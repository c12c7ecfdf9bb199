// Package argo holds the domain entities shared by every pipeline stage.
package argo

import (
	"fmt"
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/qc"
)

// Float status values accepted by the store.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusLost     = "LOST"
	StatusUnknown  = "UNKNOWN"
)

// CatalogueRow is one record of the global profile index.
type CatalogueRow struct {
	Path      string // relative to the archive root, e.g. "aoml/2901234/profiles/R2901234_001.nc"
	Latitude  float64
	Longitude float64
	RawDate   string    // YYYYMMDDHHMMSS as published
	Date      time.Time // set once RawDate has been parsed by the filter
}

// FloatID returns the platform directory of the catalogue path, or "" when
// the path does not follow the <dac>/<float>/... layout.
func (r CatalogueRow) FloatID() string {
	var parts [2]string
	n := 0
	start := 0
	for i := 0; i <= len(r.Path) && n < 2; i++ {
		if i == len(r.Path) || r.Path[i] == '/' {
			parts[n] = r.Path[start:i]
			n++
			start = i + 1
		}
	}
	if n < 2 {
		return ""
	}
	return parts[1]
}

// Float is an autonomous drifting platform.
type Float struct {
	ID     string
	Status string
}

// Profile is one vertical cast of a float.
type Profile struct {
	ID         string
	FloatID    string
	Cycle      int
	Latitude   float64
	Longitude  float64
	Date       time.Time
	Levels     int
	SourceFile string
}

// Location derives the profile's WGS84 point.
func (p Profile) Location() (Point, error) {
	return NewPoint(p.Longitude, p.Latitude)
}

// Measurement is one depth level of a profile.
type Measurement struct {
	ProfileID   string
	Level       int
	Pressure    *float64
	Temperature *float64
	Salinity    *float64

	PressureQC    qc.Result
	TemperatureQC qc.Result
	SalinityQC    qc.Result
}

// Key identifies the measurement within the store.
func (m Measurement) Key() string {
	return fmt.Sprintf("%s#%d", m.ProfileID, m.Level)
}

// HasValue reports whether at least one measured value is present.
func (m Measurement) HasValue() bool {
	return m.Pressure != nil || m.Temperature != nil || m.Salinity != nil
}

// ProfileID derives the stable identifier of a profile. Re-parsing the same
// file always yields the same id.
func ProfileID(floatID string, cycle int) string {
	return fmt.Sprintf("%s_%03d", floatID, cycle)
}

// ParsedFile is everything decoded from one profile file.
type ParsedFile struct {
	Path         string
	Float        Float
	Profiles     []Profile
	Measurements []Measurement
}

// Batch is the staged output of the parse stage.
type Batch struct {
	Floats       []Float
	Profiles     []Profile
	Measurements []Measurement
}

// Add merges a parsed file into the batch, keeping floats unique.
func (b *Batch) Add(f *ParsedFile, seen map[string]bool) {
	if f == nil {
		return
	}
	if f.Float.ID != "" && !seen[f.Float.ID] {
		seen[f.Float.ID] = true
		b.Floats = append(b.Floats, f.Float)
	}
	b.Profiles = append(b.Profiles, f.Profiles...)
	b.Measurements = append(b.Measurements, f.Measurements...)
}
