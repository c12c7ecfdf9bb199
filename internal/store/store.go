// Package store persists floats, profiles and measurements.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
)

// Table names.
const (
	TableFloats       = "argo_floats"
	TableProfiles     = "argo_profiles"
	TableMeasurements = "argo_measurements"
)

// Store writes entity batches. Every Insert call is atomic with respect to
// the rows it commits: rows that violate a constraint are reported in
// BatchResult.Failed while the rest of the batch commits. A returned error
// means nothing from the call was committed.
type Store interface {
	InsertFloats(ctx context.Context, floats []argo.Float) (BatchResult, error)
	InsertProfiles(ctx context.Context, profiles []argo.Profile) (BatchResult, error)
	InsertMeasurements(ctx context.Context, ms []argo.Measurement) (BatchResult, error)

	// Analyze refreshes planner statistics after a load.
	Analyze(ctx context.Context) error

	Stats(ctx context.Context) (Stats, error)
	Close()
}

// RowError is a single rejected row.
type RowError struct {
	Key string
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

// BatchResult classifies the rows of one insert call.
type BatchResult struct {
	Inserted int // new or changed rows
	Skipped  int // rows already present
	Failed   []RowError
}

// Stats summarises the store contents.
type Stats struct {
	Floats       int64
	Profiles     int64
	Measurements int64

	FirstDate time.Time
	LastDate  time.Time

	LatMin, LatMax float64
	LonMin, LonMax float64
}
