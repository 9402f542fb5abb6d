package feed

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
)

// DefaultUserAgent is sent with every feed request.
const DefaultUserAgent = "nvd-cache/1.0"

// maxMetadataBytes bounds a metadata response; real files are ~300 bytes.
const maxMetadataBytes = 64 << 10

// HTTPSource fetches partitions from an HTTP(S) mirror of the NVD JSON feeds.
type HTTPSource struct {
	base      *url.URL
	client    *http.Client
	userAgent string
}

// HTTPOption customises an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout sets the overall per-request timeout of the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) HTTPOption {
	return func(s *HTTPSource) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// NewHTTPSource creates a source rooted at baseURL. File names are resolved
// relative to it, so baseURL should end with a slash.
func NewHTTPSource(baseURL string, opts ...HTTPOption) (*HTTPSource, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, cacheerr.Transport("parse feed url", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, cacheerr.Transport("parse feed url", fmt.Errorf("unsupported scheme %q", base.Scheme))
	}

	s := &HTTPSource{
		base:      base,
		client:    &http.Client{Timeout: 5 * time.Minute},
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchMetadata implements Source.
func (s *HTTPSource) FetchMetadata(ctx context.Context, name string) (string, error) {
	body, err := s.get(ctx, MetadataFileName(name))
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxMetadataBytes))
	if err != nil {
		return "", cacheerr.Transport("read metadata", err)
	}
	return string(data), nil
}

// FetchBatch implements Source.
func (s *HTTPSource) FetchBatch(ctx context.Context, name string) (*RecordBatch, error) {
	body, err := s.get(ctx, BatchFileName(name))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	// gzip.Reader reads concatenated members by default.
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, cacheerr.Transport("decompress feed", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, cacheerr.Transport("decompress feed", err)
	}

	return DecodeBatch(data)
}

func (s *HTTPSource) get(ctx context.Context, file string) (io.ReadCloser, error) {
	ref, err := url.Parse(file)
	if err != nil {
		return nil, cacheerr.Transport("build request", err)
	}
	target := s.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, cacheerr.Transport("build request", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, cacheerr.Transport("fetch "+file, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, cacheerr.Transport("fetch "+file, fmt.Errorf("unexpected status %s", resp.Status))
	}
	return resp.Body, nil
}
