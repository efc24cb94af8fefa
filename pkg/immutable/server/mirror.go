package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jamesainslie/immutable/pkg/immutable/history"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/worker"
)

// MirrorOptions configure a Mirror.
type MirrorOptions struct {
	// Upstream is the origin the bundle is deployed on.
	Upstream string

	// Store holds the cached generations.
	Store *worker.Store

	// Strict re-validates every artifact against its manifest digest.
	Strict bool

	// Timeout bounds each upstream request.
	Timeout time.Duration

	// Refresh is the interval between checks for a new deployment.
	// Zero disables refreshing.
	Refresh time.Duration

	// Concurrency bounds parallel precache fetches.
	Concurrency int

	// History, when set, records every activation attempt.
	History *history.Log
}

// Mirror applies the worker cache lifecycle at the edge: it activates the
// generation named by the deployed worker and serves its artifacts from
// the store, falling through to upstream for everything else.
type Mirror struct {
	opts    MirrorOptions
	fetcher *worker.HTTPFetcher
	log     *logging.Logger
	metrics *Metrics

	// syncMu serializes Sync.
	syncMu sync.Mutex

	mu      sync.RWMutex
	manager *worker.Manager
	version string
}

// NewMirror creates a mirror of opts.Upstream.
func NewMirror(opts MirrorOptions) *Mirror {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Mirror{
		opts:    opts,
		fetcher: worker.NewHTTPFetcher(opts.Upstream, opts.Timeout),
		log:     logging.Get("mirror"),
	}
}

// Version returns the Content Version being served, or "" before the
// first activation.
func (m *Mirror) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Sync activates the deployed generation unless it is already active. It
// reports whether a new generation was activated.
func (m *Mirror) Sync(ctx context.Context) (bool, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	dep, err := worker.Discover(ctx, m.fetcher)
	if err != nil {
		return false, err
	}
	if dep.Version == m.Version() {
		m.log.Debug("deployment unchanged", "version", dep.Version)
		return false, nil
	}

	gen := worker.NewGeneration(m.opts.Store, worker.GenerationOptions{
		Version:     dep.Version,
		Manifest:    dep.Manifest,
		Fetcher:     m.fetcher,
		Strict:      m.opts.Strict,
		Concurrency: m.opts.Concurrency,
	})
	mgr := worker.NewManager(gen, true)
	if err := mgr.Install(ctx); err != nil {
		return false, err
	}
	if err := mgr.Activate(ctx); err != nil {
		m.record("failure", "")
		m.remember(dep, gen, err)
		return false, err
	}

	m.mu.Lock()
	previous := m.version
	m.manager = mgr
	m.version = dep.Version
	m.mu.Unlock()

	m.record("success", previous)
	m.remember(dep, gen, nil)
	m.log.Info("activated generation", "version", dep.Version, "previous", previous, "files", gen.Stored())
	return true, nil
}

func (m *Mirror) record(result, previous string) {
	if m.metrics == nil {
		return
	}
	m.metrics.Activations.WithLabelValues(result).Inc()
	if result != "success" {
		return
	}
	if previous != "" {
		m.metrics.Generation.DeleteLabelValues(previous)
	}
	m.metrics.Generation.WithLabelValues(m.Version()).Set(1)
}

// remember appends an activation attempt to the history log.
func (m *Mirror) remember(dep *worker.Deployment, gen *worker.Generation, activateErr error) {
	if m.opts.History == nil {
		return
	}
	entry := history.Entry{
		Operation: history.OpMirror,
		Root:      m.opts.Upstream,
		Version:   dep.Version,
		Summary:   history.Summary{Files: gen.Stored()},
	}
	if activateErr != nil {
		entry.Error = activateErr.Error()
		entry.Summary.Failures = 1
	}
	if _, err := m.opts.History.Record(entry); err != nil {
		m.log.Warn("failed to record history", "error", err)
	}
}

// Run syncs every Refresh interval until ctx ends. Failures are logged and
// retried on the next tick.
func (m *Mirror) Run(ctx context.Context) error {
	if m.opts.Refresh <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.opts.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sync(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn("refresh failed", "error", err)
			}
		}
	}
}

func (m *Mirror) current() *worker.Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manager
}

// serve answers from the active generation or proxies upstream.
func (m *Mirror) serve(c *gin.Context, production bool) {
	ctx := c.Request.Context()

	if mgr := m.current(); mgr != nil {
		resp, err := mgr.Fetch(ctx, c.Request.URL.Path)
		if err != nil {
			m.log.Error("cache read failed", "path", c.Request.URL.Path, "error", err)
		}
		if resp != nil {
			c.Set(sourceKey, SourceCache)
			artifactHeaders(c, production)
			c.Header("ETag", resp.Header.Get("ETag"))
			c.Header(VersionHeader, resp.Version)
			c.Data(resp.Status, resp.Header.Get("Content-Type"), resp.Body)
			return
		}
	}

	c.Set(sourceKey, SourceUpstream)
	path := c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		path += "?" + c.Request.URL.RawQuery
	}
	res, err := m.fetcher.Fetch(ctx, path)
	if err != nil {
		var status *worker.StatusError
		if errors.As(err, &status) {
			c.Status(status.Status)
			return
		}
		m.log.Warn("upstream fetch failed", "path", path, "error", err)
		c.Status(http.StatusBadGateway)
		return
	}
	c.Data(http.StatusOK, res.ContentType, res.Body)
}
