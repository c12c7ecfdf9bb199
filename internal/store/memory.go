package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
)

// Constraint errors reported by MemoryStore.
var (
	ErrForeignKey = errors.New("foreign key violation")
	ErrCheck      = errors.New("check constraint violation")
)

// MemoryStore is an in-memory Store with the same key, foreign key and
// conflict semantics as PostgresStore.
type MemoryStore struct {
	mu           sync.Mutex
	floats       map[string]argo.Float
	profiles     map[string]argo.Profile
	measurements map[string]argo.Measurement

	// FailKeys rejects the listed row keys with a check violation.
	FailKeys map[string]bool
	// Err, when set, fails every insert call before anything is written.
	Err error

	Calls    int
	Analyzed int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		floats:       make(map[string]argo.Float),
		profiles:     make(map[string]argo.Profile),
		measurements: make(map[string]argo.Measurement),
		FailKeys:     make(map[string]bool),
	}
}

func (s *MemoryStore) fail(key string) error {
	if s.FailKeys[key] {
		return fmt.Errorf("%w: rejected row %s", ErrCheck, key)
	}
	return nil
}

func (s *MemoryStore) InsertFloats(ctx context.Context, floats []argo.Float) (BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	var res BatchResult
	if err := s.precheck(ctx); err != nil {
		return res, err
	}
	for _, f := range floats {
		if err := s.fail(f.ID); err != nil {
			res.Failed = append(res.Failed, RowError{Key: f.ID, Err: err})
			continue
		}
		if old, ok := s.floats[f.ID]; ok && old.Status == f.Status {
			res.Skipped++
			continue
		}
		s.floats[f.ID] = f
		res.Inserted++
	}
	return res, nil
}

func (s *MemoryStore) InsertProfiles(ctx context.Context, profiles []argo.Profile) (BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	var res BatchResult
	if err := s.precheck(ctx); err != nil {
		return res, err
	}
	for _, p := range profiles {
		if err := s.fail(p.ID); err != nil {
			res.Failed = append(res.Failed, RowError{Key: p.ID, Err: err})
			continue
		}
		if _, err := p.Location(); err != nil {
			res.Failed = append(res.Failed, RowError{Key: p.ID, Err: fmt.Errorf("%w: %v", ErrCheck, err)})
			continue
		}
		if _, ok := s.floats[p.FloatID]; !ok {
			res.Failed = append(res.Failed, RowError{Key: p.ID, Err: fmt.Errorf("%w: float %s", ErrForeignKey, p.FloatID)})
			continue
		}
		if _, ok := s.profiles[p.ID]; ok {
			res.Skipped++
			continue
		}
		s.profiles[p.ID] = p
		res.Inserted++
	}
	return res, nil
}

func (s *MemoryStore) InsertMeasurements(ctx context.Context, ms []argo.Measurement) (BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	var res BatchResult
	if err := s.precheck(ctx); err != nil {
		return res, err
	}
	for _, m := range ms {
		key := m.Key()
		if err := s.fail(key); err != nil {
			res.Failed = append(res.Failed, RowError{Key: key, Err: err})
			continue
		}
		if !m.HasValue() || m.Level < 0 {
			res.Failed = append(res.Failed, RowError{Key: key, Err: ErrCheck})
			continue
		}
		if _, ok := s.profiles[m.ProfileID]; !ok {
			res.Failed = append(res.Failed, RowError{Key: key, Err: fmt.Errorf("%w: profile %s", ErrForeignKey, m.ProfileID)})
			continue
		}
		if _, ok := s.measurements[key]; ok {
			res.Skipped++
			continue
		}
		s.measurements[key] = m
		res.Inserted++
	}
	return res, nil
}

func (s *MemoryStore) precheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Err
}

// DeleteFloat removes a float and cascades to its profiles and measurements.
func (s *MemoryStore) DeleteFloat(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.floats, id)
	for pid, p := range s.profiles {
		if p.FloatID != id {
			continue
		}
		delete(s.profiles, pid)
		for key, m := range s.measurements {
			if m.ProfileID == pid {
				delete(s.measurements, key)
			}
		}
	}
}

// Float returns a stored float.
func (s *MemoryStore) Float(id string) (argo.Float, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.floats[id]
	return f, ok
}

// Profile returns a stored profile.
func (s *MemoryStore) Profile(id string) (argo.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	return p, ok
}

// Measurement returns a stored measurement by profile id and level.
func (s *MemoryStore) Measurement(profileID string, level int) (argo.Measurement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.measurements[argo.Measurement{ProfileID: profileID, Level: level}.Key()]
	return m, ok
}

func (s *MemoryStore) Analyze(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Analyzed++
	return ctx.Err()
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Floats:       int64(len(s.floats)),
		Profiles:     int64(len(s.profiles)),
		Measurements: int64(len(s.measurements)),
	}
	first := true
	for _, p := range s.profiles {
		if first {
			st.FirstDate, st.LastDate = p.Date, p.Date
			st.LatMin, st.LatMax = p.Latitude, p.Latitude
			st.LonMin, st.LonMax = p.Longitude, p.Longitude
			first = false
			continue
		}
		if p.Date.Before(st.FirstDate) {
			st.FirstDate = p.Date
		}
		if p.Date.After(st.LastDate) {
			st.LastDate = p.Date
		}
		st.LatMin = min(st.LatMin, p.Latitude)
		st.LatMax = max(st.LatMax, p.Latitude)
		st.LonMin = min(st.LonMin, p.Longitude)
		st.LonMax = max(st.LonMax, p.Longitude)
	}
	return st, ctx.Err()
}

func (s *MemoryStore) Close() {}
