package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/versioner"
)

// VersionKey is the storage key holding the current Content Version.
const VersionKey = "service_worker.current.version"

// ImmutableMaxAge is the max-age an immutable bundle must be served with.
const ImmutableMaxAge = "31536000"

// Warnings shown when the worker is not served as an immutable artifact.
const (
	WarnNotImmutable = "This website is not distributed as immutable. Use it at your own risk."
	WarnShortTTL     = "This website is distributed with a time-to-live of less than 1 year. Use it at your own risk."
)

// Registrar registers the versioned worker of a bundle. Without an Alerter
// cache warnings are only logged.
type Registrar struct {
	Fetcher Fetcher
	Storage Storage
	Workers WorkerRegistry
	Alerter Alerter
}

// Register fetches the stable worker relative to location, warns when it
// is not served as immutable, derives its Content Version, persists it and
// registers the version-named worker. It returns the version.
func (r *Registrar) Register(ctx context.Context, location string) (string, error) {
	base, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	latest := base.ResolveReference(&url.URL{Path: "/" + manifest.WorkerLatest})

	header, body, err := r.Fetcher.Fetch(ctx, latest.String())
	if err != nil {
		return "", fmt.Errorf("fetch latest service worker: %w", err)
	}

	for _, warning := range CacheWarnings(header.Get("Cache-Control")) {
		if r.Alerter == nil {
			logging.Get("loader").Warn(warning, "url", latest.String())
			continue
		}
		r.Alerter.Alert(warning)
	}

	version := versioner.Version(body)
	pinned := latest.ResolveReference(&url.URL{Path: versioner.VersionedName(latest.Path, version)})

	encoded, err := json.Marshal(version)
	if err != nil {
		return "", err
	}
	if err := r.Storage.SetItem(VersionKey, string(encoded)); err != nil {
		return "", fmt.Errorf("persist version: %w", err)
	}

	if err := r.Workers.Register(ctx, pinned.String()); err != nil {
		return "", fmt.Errorf("register %s: %w", pinned, err)
	}
	return version, nil
}

// CacheWarnings returns the warnings a Cache-Control value deserves.
func CacheWarnings(cacheControl string) []string {
	var out []string
	if !strings.Contains(cacheControl, "immutable") {
		out = append(out, WarnNotImmutable)
	}

	ttl := ""
	for _, directive := range strings.Split(cacheControl, ",") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(directive), "max-age="); ok {
			ttl = v
			break
		}
	}
	if ttl != ImmutableMaxAge {
		out = append(out, WarnShortTTL)
	}
	return out
}

// HTTPFetcher fetches over HTTP with caching disabled.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Cache-Control", "no-cache"),
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (http.Header, []byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, nil, err
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status())
	}
	return resp.Header(), resp.Body(), nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
