package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
)

func TestIsRowError(t *testing.T) {
	assert.True(t, isRowError(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isRowError(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "22003"})))
	assert.False(t, isRowError(&pgconn.PgError{Code: "08006"}))
	assert.False(t, isRowError(errors.New("conn closed")))
}

// TestPostgresStore runs against a live PostGIS database when
// ARGO_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ARGO_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ARGO_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, PostgresConfig{DSN: dsn}, logging.Discard())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.pool.Exec(ctx, "DELETE FROM argo_floats WHERE float_id = 'test-float'")
	require.NoError(t, err)

	res, err := s.InsertFloats(ctx, []argo.Float{{ID: "test-float", Status: argo.StatusActive}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	profiles := []argo.Profile{
		{ID: "test-float_001", FloatID: "test-float", Cycle: 1, Latitude: 10, Longitude: 60, Date: time.Now().UTC()},
		{ID: "test-float_002", FloatID: "missing-float", Cycle: 2, Latitude: 10, Longitude: 60, Date: time.Now().UTC()},
	}
	res, err = s.InsertProfiles(ctx, profiles)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "test-float_002", res.Failed[0].Key)

	res, err = s.InsertProfiles(ctx, profiles[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	require.NoError(t, s.Analyze(ctx))
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Positive(t, st.Profiles)
}
