package loader

import (
	"context"
	"net/http"
	"sync"

	"github.com/jamesainslie/immutable/pkg/immutable/document"
)

// Environment describes the realm the page runs in.
type Environment interface {
	UserAgent() string

	// Framed reports whether the page is embedded by a parent.
	Framed() bool

	// Location is the current URL of the page.
	Location() string
}

// Document gives access to the live document.
type Document interface {
	// Serialize returns "<!DOCTYPE html>" followed by the document
	// element's outer HTML.
	Serialize() (string, error)
}

// Alerter surfaces a blocking message to the user.
type Alerter interface {
	Alert(msg string)
}

// Navigation reports in-page navigations and reloads the page.
type Navigation interface {
	// OnNavigate calls fn with the new location after every fragment change.
	OnNavigate(fn func(href string)) (stop func())

	// Reload reloads the page.
	Reload()
}

// Storage persists small values across loads.
type Storage interface {
	SetItem(key, value string) error
	GetItem(key string) (string, bool)
}

// Fetcher retrieves a resource bypassing any cache.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (http.Header, []byte, error)
}

// WorkerRegistry registers a service worker script.
type WorkerRegistry interface {
	Register(ctx context.Context, scriptURL string) error
}

// HTMLDocument is a Document backed by parsed HTML.
type HTMLDocument struct {
	src []byte
}

// NewHTMLDocument wraps a served document.
func NewHTMLDocument(src []byte) *HTMLDocument {
	return &HTMLDocument{src: src}
}

// Serialize parses the document and renders it the way a browser reports
// its live DOM.
func (d *HTMLDocument) Serialize() (string, error) {
	return document.Normalize(d.src)
}

// MemoryStorage is a Storage held in memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

// SetItem stores value under key.
func (s *MemoryStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

// GetItem returns the value stored under key.
func (s *MemoryStorage) GetItem(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

var _ Storage = (*MemoryStorage)(nil)
