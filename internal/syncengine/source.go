package syncengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FetchResult is the outcome of one conditional bundle fetch.
type FetchResult struct {
	NotModified bool
	ETag        string
	Body        []byte
}

// BundleSource fetches the remote bundle conditionally. Implementations must
// return NotModified when the server answers 304 for the presented etag.
type BundleSource interface {
	Fetch(ctx context.Context, etag string) (FetchResult, error)
	URL() string
}

// HTTPSource fetches bundles from the canopy API over HTTP.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource constructs a source for the given base URL.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// URL returns the configured remote base URL.
func (s *HTTPSource) URL() string {
	return s.baseURL
}

// Fetch performs a conditional GET against /bundle, presenting the last
// known etag via If-None-Match.
func (s *HTTPSource) Fetch(ctx context.Context, etag string) (FetchResult, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/bundle", nil)
	if err != nil {
		return FetchResult{}, err
	}
	if etag != "" {
		request.Header.Set("If-None-Match", etag)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return FetchResult{}, err
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotModified:
		return FetchResult{NotModified: true, ETag: etag}, nil
	case response.StatusCode >= 200 && response.StatusCode < 300:
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return FetchResult{}, err
		}
		return FetchResult{ETag: response.Header.Get("ETag"), Body: body}, nil
	default:
		return FetchResult{}, fmt.Errorf("bundle fetch returned status %d", response.StatusCode)
	}
}
