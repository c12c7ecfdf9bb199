// Package failures records per-item failures of a stage so they can be
// inspected and retried.
package failures

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/storage"
)

// Manifest file names per stage.
const (
	DownloadsFile = "failed_downloads.txt"
	ParsingFile   = "failed_parsing.txt"
	RecordsFile   = "failed_records.txt"
)

// Entry is one failed item.
type Entry struct {
	Key string
	Err string
}

// Write replaces the manifest at path with one "key<TAB>error" line per
// entry. With no entries the manifest is removed.
func Write(path string, entries []Entry) error {
	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale manifest: %w", err)
		}
		return nil
	}

	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(clean(e.Key))
		buf.WriteByte('\t')
		buf.WriteString(clean(e.Err))
		buf.WriteByte('\n')
	}
	if _, err := storage.WriteFileAtomic(path, &buf); err != nil {
		return fmt.Errorf("write failure manifest: %w", err)
	}
	return nil
}

func clean(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}

// Read parses a manifest written by Write. A missing file yields no entries.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, msg, _ := strings.Cut(line, "\t")
		entries = append(entries, Entry{Key: key, Err: msg})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read failure manifest %s: %w", path, err)
	}
	return entries, nil
}

// Keys returns the keys of entries in order.
func Keys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}
