package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds every outbound origin request so a hanging
	// origin cannot pin a handler indefinitely.
	DefaultFetchTimeout = 15 * time.Second

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"

	defaultContentType = "application/octet-stream"
)

// Fetcher performs single-attempt HTTP GETs against the origin. There is no
// retry and no backoff; failures surface immediately to the caller.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher whose requests time out after the given
// duration. A non-positive timeout uses DefaultFetchTimeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch GETs rawURL once and returns the body and content type. Transport
// failures and non-2xx statuses both match ErrUpstream; a non-2xx response
// additionally carries its status code via UpstreamStatusError. A missing
// Content-Type header defaults to application/octet-stream.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, header http.Header) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return body, contentType, nil
}
