// Package output renders the results of publish operations (builds,
// verifications, cache and history listings) in the formats the command
// line offers.
//
// Formatters are looked up by name in a registry:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.FromBuild(report)); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status classifies one item of a result.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusActive  Status = "active"
	StatusStored  Status = "stored"
)

// Item is one row of a result: a document, a worker file, a cached
// generation or a history entry.
type Item struct {
	Path   string    `json:"path" yaml:"path"`
	Status Status    `json:"status" yaml:"status"`
	Digest string    `json:"digest,omitempty" yaml:"digest,omitempty"`
	Size   int64     `json:"size,omitempty" yaml:"size,omitempty"`
	Detail string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	Time   time.Time `json:"time,omitzero" yaml:"time,omitempty"`
}

// Result is what a command hands to a formatter.
type Result struct {
	// Operation names what produced the result ("build", "verify", ...).
	Operation string

	// Source is the output tree or upstream the operation ran against.
	Source string

	// Version is the Content Version involved, if any.
	Version string

	Items    []Item
	Duration time.Duration
	Failures int
	Warnings []string
}

// TotalSize returns the sum of all item sizes.
func (r *Result) TotalSize() int64 {
	var total int64
	for _, it := range r.Items {
		total += it.Size
	}
	return total
}

// Count returns the number of items with the given status.
func (r *Result) Count(s Status) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == s {
			n++
		}
	}
	return n
}

// Formatter renders a result.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry maps formatter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces a formatter.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available lists the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
