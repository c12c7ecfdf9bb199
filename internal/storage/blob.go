package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	"gocloud.dev/gcerrors"
)

// BlobStore writes artifacts to any gocloud.dev bucket. GCS and S3 stores
// are BlobStores opened with the matching URL scheme.
type BlobStore struct {
	bucket  *blob.Bucket
	baseURI string // "gs://bucket", "s3://bucket", "file:///dir"
	prefix  string
}

// OpenBlobStore opens a bucket from a gocloud.dev URL such as
// "file:///tmp/staging" or "gs://bucket".
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	base := bucketURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return &BlobStore{
		bucket:  bucket,
		baseURI: strings.TrimSuffix(base, "/"),
		prefix:  prefix,
	}, nil
}

func (s *BlobStore) key(key string) string {
	return joinKey(s.prefix, key)
}

// Write writes data to the bucket. Object writes become visible on close.
func (s *BlobStore) Write(ctx context.Context, key string, data []byte) error {
	path := s.key(key)
	if err := s.bucket.WriteAll(ctx, path, data, nil); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Read returns the object stored under key.
func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	path := s.key(key)
	data, err := s.bucket.ReadAll(ctx, path)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.URI(key))
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Exists checks if an object exists in the bucket.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, s.key(key))
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.baseURI + "/" + s.key(key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// --- AtomicStore implementation ---

// WriteTemp writes data to a temporary object.
func (s *BlobStore) WriteTemp(ctx context.Context, key string, data []byte) (string, error) {
	tempKey := key + ".tmp." + uuid.New().String()
	if err := s.Write(ctx, tempKey, data); err != nil {
		return "", err
	}
	return tempKey, nil
}

// Finalize publishes temp objects in order using the copy + delete pattern.
func (s *BlobStore) Finalize(ctx context.Context, pending []Pending) error {
	for i, p := range pending {
		if err := s.bucket.Copy(ctx, s.key(p.Key), s.key(p.TempKey), nil); err != nil {
			// Rollback: delete any copied objects
			for j := 0; j < i; j++ {
				s.bucket.Delete(ctx, s.key(pending[j].Key))
			}
			temps := make([]string, len(pending))
			for j, q := range pending {
				temps[j] = q.TempKey
			}
			s.Abort(ctx, temps)
			return fmt.Errorf("finalize %s -> %s: %w", p.TempKey, p.Key, err)
		}
	}

	// Delete all temp objects after successful copy
	for _, p := range pending {
		s.bucket.Delete(ctx, s.key(p.TempKey)) // ignore errors
	}
	return nil
}

// Abort removes temporary objects without publishing.
func (s *BlobStore) Abort(ctx context.Context, tempKeys []string) error {
	var lastErr error
	for _, key := range tempKeys {
		if err := s.bucket.Delete(ctx, s.key(key)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			lastErr = err
		}
	}
	return lastErr
}

// Head returns metadata about a stored object.
func (s *BlobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, s.key(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.URI(key))
		}
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ModTime: attrs.ModTime,
	}, nil
}

// Verify BlobStore implements AtomicStore.
var _ AtomicStore = (*BlobStore)(nil)
