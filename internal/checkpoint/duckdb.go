package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

const duckSchema = `
CREATE TABLE IF NOT EXISTS fetch_ledger (
	key        VARCHAR PRIMARY KEY,
	url        VARCHAR NOT NULL,
	checksum   VARCHAR NOT NULL,
	size       BIGINT NOT NULL,
	fetched_at TIMESTAMP NOT NULL
);`

// duckLedger stores entries in a DuckDB table. Writes go straight to the
// database, so Flush only checkpoints the WAL.
type duckLedger struct {
	db *sql.DB
}

// OpenDuckDB opens (or creates) the ledger database at path.
func OpenDuckDB(path string) (Ledger, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb ledger %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb ledger %s: %w", path, err)
	}
	if _, err := db.Exec(duckSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &duckLedger{db: db}, nil
}

func (l *duckLedger) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	var e Entry
	err := l.db.QueryRowContext(ctx,
		`SELECT key, url, checksum, size, fetched_at FROM fetch_ledger WHERE key = ?`, key,
	).Scan(&e.Key, &e.URL, &e.Checksum, &e.Size, &e.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup ledger entry %s: %w", key, err)
	}
	return e, true, nil
}

func (l *duckLedger) Record(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return errors.New("ledger entry has empty key")
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO fetch_ledger (key, url, checksum, size, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			url = excluded.url,
			checksum = excluded.checksum,
			size = excluded.size,
			fetched_at = excluded.fetched_at`,
		e.Key, e.URL, e.Checksum, e.Size, e.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record ledger entry %s: %w", e.Key, err)
	}
	return nil
}

func (l *duckLedger) Flush(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `CHECKPOINT`); err != nil {
		return fmt.Errorf("checkpoint ledger: %w", err)
	}
	return nil
}

func (l *duckLedger) Close() error {
	return l.db.Close()
}
