package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
)

// Phase is the lifecycle position of a Manager.
type Phase int

// Lifecycle phases.
const (
	Parsed Phase = iota
	Installed
	Activated
)

func (p Phase) String() string {
	switch p {
	case Installed:
		return "installed"
	case Activated:
		return "activated"
	default:
		return "parsed"
	}
}

// ErrNotInstalled is returned by Activate before Install.
var ErrNotInstalled = errors.New("worker not installed")

// Manager drives the install, activate and fetch lifecycle of a worker
// over a Cache. Outside production it never touches the cache.
type Manager struct {
	cache      Cache
	production bool
	log        *logging.Logger

	mu          sync.RWMutex
	phase       Phase
	skipWaiting bool
}

// NewManager creates a manager for cache.
func NewManager(cache Cache, production bool) *Manager {
	return &Manager{
		cache:      cache,
		production: production,
		log:        logging.Get("worker"),
	}
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// SkipWaiting reports whether the worker asked to activate immediately.
func (m *Manager) SkipWaiting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipWaiting
}

// Install handles the install event. A versioned bundle never needs a
// staged rollover, so it always requests immediate activation.
func (m *Manager) Install(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipWaiting = true
	m.phase = Installed
	return nil
}

// Activate handles the activate event: it evicts other generations and
// precaches this one, and returns only when both are done. Any failure
// fails the activation and leaves the manager installed.
func (m *Manager) Activate(ctx context.Context) error {
	if m.Phase() == Parsed {
		return ErrNotInstalled
	}

	if m.production {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return m.cache.Uncache(gctx) })
		g.Go(func() error { return m.cache.Precache(gctx) })
		if err := g.Wait(); err != nil {
			m.log.Error("activation failed", "error", err)
			return fmt.Errorf("activate: %w", err)
		}
	} else {
		m.log.Debug("development mode, caching bypassed")
	}

	m.mu.Lock()
	m.phase = Activated
	m.mu.Unlock()
	return nil
}

// Fetch handles a fetch event. A nil response means the request falls
// through to the network.
func (m *Manager) Fetch(ctx context.Context, path string) (*Response, error) {
	if !m.production || m.Phase() != Activated {
		return nil, nil
	}
	return m.cache.Handle(ctx, path)
}
