package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
)

const defaultUserAgent = "argo-pipeline/1.0"

// HTTPSource reads archive files over HTTP(S).
type HTTPSource struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// HTTPOption customizes an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithClient replaces the default HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(s *HTTPSource) { s.userAgent = ua }
}

// DefaultHTTPClient returns a client suitable for many small downloads.
// Per-request deadlines come from the caller's context.
func DefaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 64
	transport.MaxIdleConnsPerHost = 32
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: transport}
}

// HeaderTimeoutClient is DefaultHTTPClient with a limit on the wait for
// response headers. Reading the body is bounded only by the context.
func HeaderTimeoutClient(d time.Duration) *http.Client {
	c := DefaultHTTPClient()
	c.Transport.(*http.Transport).ResponseHeaderTimeout = d
	return c
}

// NewHTTPSource creates a source rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		client:    DefaultHTTPClient(),
		baseURL:   baseURL,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSource) URL(relPath string) string {
	return joinURL(s.baseURL, relPath)
}

// Open issues a GET for relPath and returns the body on 2xx.
func (s *HTTPSource) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	return Get(ctx, s.client, s.URL(relPath), s.userAgent)
}

// Get fetches an absolute URL with the source's client and User-Agent.
func (s *HTTPSource) Get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return Get(ctx, s.client, rawURL, s.userAgent)
}

func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Get fetches rawURL and classifies failures: transport errors, 5xx, 408 and
// 429 are transient, any other non-2xx status is permanent.
func Get(ctx context.Context, client *http.Client, rawURL, userAgent string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &argo.PermanentFetchError{URL: rawURL, Attempts: 1, Err: fmt.Errorf("build request: %w", err)}
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &argo.TransientNetworkError{URL: rawURL, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}

	// Drain a little so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if IsRetryableStatus(resp.StatusCode) {
		return nil, &argo.TransientNetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return nil, &argo.PermanentFetchError{URL: rawURL, Attempts: 1, StatusCode: resp.StatusCode}
}

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
