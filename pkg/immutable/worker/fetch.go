package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

// Resource is a fetched artifact.
type Resource struct {
	Body        []byte
	ContentType string
}

// Fetcher retrieves the artifact published at a manifest path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (*Resource, error)
}

// StatusError is returned for a non-2xx upstream answer.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// HTTPFetcher fetches artifacts from the origin a bundle is deployed on.
type HTTPFetcher struct {
	base   string
	client *resty.Client
}

// NewHTTPFetcher creates a fetcher for paths under baseURL.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		base: strings.TrimRight(baseURL, "/"),
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Cache-Control", "no-cache").
			SetHeader("User-Agent", "immutable-mirror"),
	}
}

// Base returns the origin the fetcher reads from.
func (f *HTTPFetcher) Base() string { return f.base }

// Fetch implements Fetcher. The content type falls back to sniffing when
// the origin does not send one.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) (*Resource, error) {
	url := f.base + path
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &StatusError{URL: url, Status: resp.StatusCode()}
	}

	body := resp.Body()
	ct := resp.Header().Get("Content-Type")
	if ct == "" {
		ct = mimetype.Detect(body).String()
	}
	return &Resource{Body: body, ContentType: ct}, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
