package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/metrics"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/qc"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertFloatSQL = `
		INSERT INTO argo_floats (float_id, status)
		VALUES ($1, $2)
		ON CONFLICT (float_id) DO UPDATE
			SET status = EXCLUDED.status, updated_at = NOW()
			WHERE argo_floats.status IS DISTINCT FROM EXCLUDED.status`

	insertProfileSQL = `
		INSERT INTO argo_profiles (
			profile_id, float_id, cycle_number, latitude, longitude,
			profile_date, n_levels, source_file, geom
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, ST_GeomFromEWKT($9))
		ON CONFLICT (profile_id) DO NOTHING`

	insertMeasurementSQL = `
		INSERT INTO argo_measurements (
			profile_id, level, pressure, temperature, salinity,
			pressure_qc, temperature_qc, salinity_qc
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (profile_id, level) DO NOTHING`
)

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// PostgresStore implements Store on PostgreSQL with PostGIS.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresStore connects, pings and applies the schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logging.Component("store")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, log: logger}
	if _, err := pool.Exec(connectCtx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("connected to PostgreSQL", "max_conns", poolCfg.MaxConns)
	return s, nil
}

// stmt is one row insert.
type stmt struct {
	key  string
	args []any
}

func (s *PostgresStore) InsertFloats(ctx context.Context, floats []argo.Float) (BatchResult, error) {
	rows := make([]stmt, len(floats))
	for i, f := range floats {
		rows[i] = stmt{key: f.ID, args: []any{f.ID, f.Status}}
	}
	return s.insert(ctx, TableFloats, insertFloatSQL, rows)
}

func (s *PostgresStore) InsertProfiles(ctx context.Context, profiles []argo.Profile) (BatchResult, error) {
	rows := make([]stmt, 0, len(profiles))
	var failed []RowError
	for _, p := range profiles {
		pt, err := p.Location()
		if err != nil {
			failed = append(failed, RowError{Key: p.ID, Err: err})
			continue
		}
		rows = append(rows, stmt{key: p.ID, args: []any{
			p.ID, p.FloatID, p.Cycle, p.Latitude, p.Longitude,
			p.Date.UTC(), p.Levels, p.SourceFile, pt.EWKT(),
		}})
	}
	res, err := s.insert(ctx, TableProfiles, insertProfileSQL, rows)
	res.Failed = append(failed, res.Failed...)
	return res, err
}

func (s *PostgresStore) InsertMeasurements(ctx context.Context, ms []argo.Measurement) (BatchResult, error) {
	rows := make([]stmt, len(ms))
	for i, m := range ms {
		rows[i] = stmt{key: m.Key(), args: []any{
			m.ProfileID, m.Level, m.Pressure, m.Temperature, m.Salinity,
			qcColumn(m.PressureQC), qcColumn(m.TemperatureQC), qcColumn(m.SalinityQC),
		}}
	}
	return s.insert(ctx, TableMeasurements, insertMeasurementSQL, rows)
}

// qcColumn maps a decoded flag to its column value; missing flags are NULL.
func qcColumn(r qc.Result) *string {
	if !r.IsOK() {
		return nil
	}
	s := r.String()
	return &s
}

// insert sends all rows as one pipelined batch in a single transaction. If
// the batch fails on a row-level constraint it is replayed row by row with a
// savepoint per row so only the offending rows are dropped.
func (s *PostgresStore) insert(ctx context.Context, table, query string, rows []stmt) (BatchResult, error) {
	var res BatchResult
	if len(rows) == 0 {
		return res, nil
	}

	start := time.Now()
	defer func() {
		if m := metrics.Get(); m != nil {
			m.ObserveBatchDuration(table, time.Since(start))
		}
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin %s batch: %w", table, err)
	}

	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(query, r.args...)
	}
	br := tx.SendBatch(ctx, b)

	var batchErr error
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			batchErr = err
			break
		}
		if tag.RowsAffected() > 0 {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}
	if err := br.Close(); err != nil && batchErr == nil {
		batchErr = err
	}

	if batchErr == nil {
		if err := tx.Commit(ctx); err != nil {
			return BatchResult{}, fmt.Errorf("commit %s batch: %w", table, err)
		}
		return res, nil
	}

	_ = tx.Rollback(context.WithoutCancel(ctx))
	if !isRowError(batchErr) {
		return BatchResult{}, fmt.Errorf("insert %s: %w", table, batchErr)
	}

	s.log.Warn("batch rejected, replaying row by row",
		"table", table,
		"rows", len(rows),
		"error", batchErr,
	)
	return s.replay(ctx, table, query, rows)
}

func (s *PostgresStore) replay(ctx context.Context, table, query string, rows []stmt) (BatchResult, error) {
	var res BatchResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin %s replay: %w", table, err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	for _, r := range rows {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return BatchResult{}, fmt.Errorf("savepoint: %w", err)
		}
		tag, err := sp.Exec(ctx, query, r.args...)
		if err != nil {
			_ = sp.Rollback(ctx)
			if !isRowError(err) {
				return BatchResult{}, fmt.Errorf("insert %s %s: %w", table, r.key, err)
			}
			res.Failed = append(res.Failed, RowError{Key: r.key, Err: err})
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return BatchResult{}, fmt.Errorf("release savepoint: %w", err)
		}
		if tag.RowsAffected() > 0 {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, fmt.Errorf("commit %s replay: %w", table, err)
	}
	return res, nil
}

// isRowError reports whether err is caused by the data of one row: a data
// exception (class 22) or an integrity constraint violation (class 23).
func isRowError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	class := pgErr.Code[:2]
	return class == "22" || class == "23"
}

func (s *PostgresStore) Analyze(ctx context.Context) error {
	for _, table := range []string{TableFloats, TableProfiles, TableMeasurements} {
		if _, err := s.pool.Exec(ctx, "ANALYZE "+table); err != nil {
			return fmt.Errorf("analyze %s: %w", table, err)
		}
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM argo_floats),
			(SELECT COUNT(*) FROM argo_profiles),
			(SELECT COUNT(*) FROM argo_measurements)
	`).Scan(&st.Floats, &st.Profiles, &st.Measurements)
	if err != nil {
		return st, fmt.Errorf("count rows: %w", err)
	}
	if st.Profiles == 0 {
		return st, nil
	}

	err = s.pool.QueryRow(ctx, `
		SELECT MIN(profile_date), MAX(profile_date),
		       MIN(latitude), MAX(latitude), MIN(longitude), MAX(longitude)
		FROM argo_profiles
	`).Scan(&st.FirstDate, &st.LastDate, &st.LatMin, &st.LatMax, &st.LonMin, &st.LonMax)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return st, fmt.Errorf("profile extent: %w", err)
	}
	st.FirstDate = st.FirstDate.UTC()
	st.LastDate = st.LastDate.UTC()
	return st, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
