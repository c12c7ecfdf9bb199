// Package storage writes pipeline artifacts to the local filesystem or to
// object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"
)

// ErrNotFound is returned by Read for a missing key.
var ErrNotFound = errors.New("object not found")

// Store abstracts reading and writing artifacts by key.
type Store interface {
	// Write stores data under key, replacing any existing object.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the object stored under key or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// AtomicStore extends Store with publish-all-or-nothing writes.
type AtomicStore interface {
	Store

	// WriteTemp writes data to a temporary location next to key.
	// Returns the temp key that can be passed to Finalize.
	WriteTemp(ctx context.Context, key string, data []byte) (tempKey string, err error)

	// Finalize moves temp objects to their canonical keys in order.
	// For object stores this is copy+delete; for local filesystem it's rename.
	// If any object fails to finalize, already published ones are rolled back.
	Finalize(ctx context.Context, pending []Pending) error

	// Abort removes temporary objects without publishing.
	Abort(ctx context.Context, tempKeys []string) error
}

// Pending pairs a temp key with the key it will be published under.
type Pending struct {
	TempKey string
	Key     string
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Config configures the storage backend.
type Config struct {
	Backend string // "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string

	// GCS or S3 bucket name
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Common
	Prefix string // path prefix within bucket or local dir
}

// New creates an atomic storage backend based on configuration.
// All supported backends (local, gcs, s3) implement AtomicStore.
func New(cfg Config) (AtomicStore, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewGCSStore(cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Store(cfg.Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// joinKey prefixes key with the store prefix using forward slashes.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}
