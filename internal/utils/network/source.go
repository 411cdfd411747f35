package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const userAgent = "mirror-sync/1.0"

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: bad status: %s", e.URL, e.Status)
}

// HTTPSource fetches artifacts over HTTP(S).
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource wraps client; a nil client gets NewSecureHTTPClient(0).
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = NewSecureHTTPClient(0)
	}
	return &HTTPSource{client: client}
}

// Fetch issues a GET and returns the response body. The caller closes it.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode, Status: resp.Status}
	}
	return resp.Body, nil
}

// FileSource reads file:// URLs and plain paths from the local disk.
type FileSource struct{}

func (FileSource) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := rawURL
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", rawURL, err)
		}
		p = u.Path
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// MultiSource routes file:// locators to a FileSource and everything else to
// an HTTPSource.
type MultiSource struct {
	HTTP *HTTPSource
	File FileSource
}

// NewSource returns a MultiSource using client for HTTP.
func NewSource(client *http.Client) *MultiSource {
	return &MultiSource{HTTP: NewHTTPSource(client)}
}

func (m *MultiSource) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(rawURL, "file://"):
		return m.File.Fetch(ctx, rawURL)
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return m.HTTP.Fetch(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported locator %q", rawURL)
	}
}
