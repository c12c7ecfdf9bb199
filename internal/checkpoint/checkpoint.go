// Package checkpoint records which profile files have been fetched and
// the digest each one had when it was written.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown ledger backend")
)

// Entry describes one fetched file.
type Entry struct {
	Key       string    `json:"key"` // path relative to the raw data root
	URL       string    `json:"url"`
	Checksum  string    `json:"checksum"` // "sha256:<hex>"
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Ledger persists fetch entries so a later run can skip verified files.
type Ledger interface {
	// Lookup returns the entry for key, if any.
	Lookup(ctx context.Context, key string) (Entry, bool, error)

	// Record adds or replaces an entry.
	Record(ctx context.Context, e Entry) error

	// Flush makes recorded entries durable.
	Flush(ctx context.Context) error

	Close() error
}

// Config configures the ledger.
type Config struct {
	Backend string // "json" | "duckdb" | "none"
	Path    string
}

// New opens a ledger based on configuration.
func New(cfg Config) (Ledger, error) {
	switch cfg.Backend {
	case "", "none":
		return noopLedger{}, nil
	case "json":
		return OpenJSON(cfg.Path)
	case "duckdb":
		return OpenDuckDB(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// jsonLedger keeps entries in memory and rewrites the file on Flush.
type jsonLedger struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

type ledgerFile struct {
	UpdatedAt time.Time `json:"updated_at"`
	Entries   []Entry   `json:"entries"`
}

// OpenJSON loads the ledger at path, starting empty when the file does not
// exist yet.
func OpenJSON(path string) (Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	l := &jsonLedger{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ledger file: %w", err)
	}
	for _, e := range f.Entries {
		l.entries[e.Key] = e
	}
	return l, nil
}

func (l *jsonLedger) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return e, ok, nil
}

func (l *jsonLedger) Record(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return errors.New("ledger entry has empty key")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[e.Key] = e
	l.dirty = true
	return nil
}

// Flush writes the ledger atomically.
func (l *jsonLedger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dirty {
		return nil
	}

	f := ledgerFile{UpdatedAt: time.Now().UTC(), Entries: make([]Entry, 0, len(l.entries))}
	for _, e := range l.entries {
		f.Entries = append(f.Entries, e)
	}
	sort.Slice(f.Entries, func(i, j int) bool { return f.Entries[i].Key < f.Entries[j].Key })

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	// Write atomically
	tempPath := l.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}

	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename ledger file: %w", err)
	}

	l.dirty = false
	return nil
}

func (l *jsonLedger) Close() error {
	return l.Flush(context.Background())
}

// noopLedger is used when the ledger is disabled; every lookup misses.
type noopLedger struct{}

func (noopLedger) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	return Entry{}, false, nil
}

func (noopLedger) Record(ctx context.Context, e Entry) error { return nil }

func (noopLedger) Flush(ctx context.Context) error { return nil }

func (noopLedger) Close() error { return nil }
