// Package worker manages the cache generation of a deployed bundle: it
// precaches every artifact the worker manifest names, evicts previous
// generations and serves requests from the active one.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
)

// ErrCacheInconsistency marks a precache that could not store the exact
// file set of its manifest.
var ErrCacheInconsistency = errors.New("cache inconsistency")

// DefaultConcurrency bounds parallel precache fetches.
const DefaultConcurrency = 8

// Response is a cached answer to a request.
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	Path    string
	Version string
}

// Cache is the storage primitive a Manager drives for one generation.
type Cache interface {
	// Precache fetches and stores every manifest path.
	Precache(ctx context.Context) error

	// Uncache removes every other generation.
	Uncache(ctx context.Context) error

	// Handle answers a request path from the generation. It returns nil
	// when the path is not part of the manifest, so the caller falls
	// through to the network.
	Handle(ctx context.Context, path string) (*Response, error)
}

// GenerationOptions configure a Generation.
type GenerationOptions struct {
	// Version is the Content Version of the worker.
	Version string

	// Manifest is the file set of the generation.
	Manifest manifest.Manifest

	// Fetcher retrieves artifacts during precache.
	Fetcher Fetcher

	// Strict re-validates every fetched body against its manifest digest.
	Strict bool

	// Concurrency bounds parallel fetches. Zero means DefaultConcurrency.
	Concurrency int
}

// Generation is the Cache of one Content Version, backed by a Store.
type Generation struct {
	store *Store
	opts  GenerationOptions
	files map[string]string
	log   *logging.Logger

	stored atomic.Int64
}

// NewGeneration binds a manifest to store.
func NewGeneration(store *Store, opts GenerationOptions) *Generation {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Generation{
		store: store,
		opts:  opts,
		files: opts.Manifest.Map(),
		log:   logging.Get("worker").With("version", opts.Version),
	}
}

// Version returns the Content Version of the generation.
func (g *Generation) Version() string { return g.opts.Version }

// Stored returns the number of artifacts stored by the last Precache.
func (g *Generation) Stored() int { return int(g.stored.Load()) }

// Precache implements Cache. Any artifact that cannot be fetched or, in
// strict mode, does not match its digest fails the whole precache.
func (g *Generation) Precache(ctx context.Context) error {
	g.stored.Store(0)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)

	for _, rec := range g.opts.Manifest {
		eg.Go(func() error {
			res, err := g.opts.Fetcher.Fetch(ctx, rec.Path)
			if err != nil {
				return fmt.Errorf("%w: fetch %s: %w", ErrCacheInconsistency, rec.Path, err)
			}
			if g.opts.Strict && !digest.Matches(rec.Digest, res.Body) {
				return fmt.Errorf("%w: %s does not match digest %s", ErrCacheInconsistency, rec.Path, rec.Digest)
			}
			if _, err := g.store.Put(g.opts.Version, rec.Path, rec.Digest, res.ContentType, res.Body); err != nil {
				return fmt.Errorf("%w: %w", ErrCacheInconsistency, err)
			}
			g.stored.Add(1)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	g.log.Info("precached generation", "files", g.Stored())
	return nil
}

// Uncache implements Cache.
func (g *Generation) Uncache(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	removed, err := g.store.Evict(g.opts.Version)
	if err != nil {
		return fmt.Errorf("uncache: %w", err)
	}
	g.log.Info("evicted previous generations", "entries", removed)
	return nil
}

// Handle implements Cache.
func (g *Generation) Handle(_ context.Context, path string) (*Response, error) {
	p, ok := g.resolve(path)
	if !ok {
		return nil, nil
	}

	entry, body, err := g.store.Get(g.opts.Version, p)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		g.log.Warn("manifest path missing from cache", "path", p)
		return nil, nil
	}

	header := make(http.Header)
	header.Set("Content-Type", entry.ContentType)
	header.Set("ETag", `"`+entry.CID+`"`)
	return &Response{
		Status:  http.StatusOK,
		Header:  header,
		Body:    body,
		Path:    p,
		Version: g.opts.Version,
	}, nil
}

// resolve maps a request path onto a manifest path the way a static host
// serves directory indexes and extensionless pages.
func (g *Generation) resolve(path string) (string, bool) {
	for _, candidate := range Candidates(path) {
		if _, ok := g.files[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

// Candidates lists the manifest paths a request path may be served from,
// in order of preference.
func Candidates(path string) []string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	if strings.HasSuffix(path, "/") {
		return []string{path + "index.html"}
	}
	return []string{path, path + ".html", path + "/index.html"}
}

var _ Cache = (*Generation)(nil)
