package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
)

// BlobSource reads archive files from an object store mirror of the GDAC.
type BlobSource struct {
	bucket  *blob.Bucket
	baseURL string
	prefix  string
}

// NewBlobSource opens the bucket named by baseURL. A path component after
// the bucket (e.g. "gs://argo-mirror/dac") becomes the key prefix; file://
// URLs use the whole path as the bucket root.
func NewBlobSource(ctx context.Context, baseURL string) (*BlobSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}

	bucketURL := baseURL
	prefix := ""
	if u.Scheme != "file" {
		prefix = strings.Trim(u.Path, "/")
		u.Path = ""
		bucketURL = u.String()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &BlobSource{bucket: bucket, baseURL: baseURL, prefix: prefix}, nil
}

func (s *BlobSource) key(relPath string) string {
	relPath = strings.TrimPrefix(relPath, "/")
	if s.prefix == "" {
		return relPath
	}
	return s.prefix + "/" + relPath
}

func (s *BlobSource) URL(relPath string) string {
	return joinURL(s.baseURL, relPath)
}

// Open returns a reader for relPath. Missing objects and permission errors
// are permanent; everything else is transient.
func (s *BlobSource) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, s.key(relPath), nil)
	if err != nil {
		switch gcerrors.Code(err) {
		case gcerrors.NotFound, gcerrors.PermissionDenied, gcerrors.InvalidArgument:
			return nil, &argo.PermanentFetchError{URL: s.URL(relPath), Attempts: 1, Err: err}
		default:
			return nil, &argo.TransientNetworkError{URL: s.URL(relPath), Err: err}
		}
	}
	return r, nil
}

func (s *BlobSource) Close() error {
	return s.bucket.Close()
}
