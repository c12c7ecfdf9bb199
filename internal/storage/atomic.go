package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileResult describes a file written by WriteFileAtomic.
type FileResult struct {
	Path     string
	Size     int64
	Checksum string
}

// WriteFileAtomic streams r into a temp file in the destination directory
// while hashing it, syncs it and renames it over path. On any error the temp
// file is removed and path is left untouched.
func WriteFileAtomic(path string, r io.Reader) (FileResult, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return FileResult{}, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return FileResult{}, fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tempPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tempPath)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		cleanup()
		return FileResult{}, fmt.Errorf("write %s: %w", tempPath, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return FileResult{}, fmt.Errorf("sync %s: %w", tempPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return FileResult{}, fmt.Errorf("close %s: %w", tempPath, err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		os.Remove(tempPath)
		return FileResult{}, fmt.Errorf("chmod %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return FileResult{}, fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return FileResult{
		Path:     path,
		Size:     n,
		Checksum: "sha256:" + hex.EncodeToString(h.Sum(nil)),
	}, nil
}
