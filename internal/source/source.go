// Package source opens files from a remote ARGO archive (GDAC mirror).
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Source reads archive files addressed by their path relative to the
// archive root, e.g. "aoml/2901234/profiles/R2901234_001.nc".
type Source interface {
	// Open starts reading relPath. Failures are *argo.TransientNetworkError
	// or *argo.PermanentFetchError.
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)

	// URL returns the absolute location of relPath.
	URL(relPath string) string

	Close() error
}

var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// New constructs a source based on the base URL scheme.
func New(ctx context.Context, baseURL string, opts ...HTTPOption) (Source, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPSource(baseURL, opts...), nil
	case "gs", "s3", "file", "mem":
		return NewBlobSource(ctx, baseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func joinURL(base, relPath string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(relPath, "/")
}
