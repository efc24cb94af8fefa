// Package template resolves the placeholder tokens that link build outputs
// together: the loader's sources, manifest and hash slots, and the worker's
// file list.
//
// Resolution is a single simultaneous pass over the text. A value that
// itself contains a slot token is never substituted a second time.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Slot is a placeholder token.
type Slot string

// Slots used by the build pipeline.
const (
	Sources  Slot = "INJECT_SOURCES"
	Hash     Slot = "INJECT_HASH"
	Manifest Slot = "INJECT_MANIFEST"
	Files    Slot = "FILES"
)

// ErrMissingPlaceholder is the build invariant violated when a template
// lacks a slot it is required to carry.
var ErrMissingPlaceholder = errors.New("missing placeholder")

// InvariantError reports a template that cannot be resolved as required.
// It is fatal to the build.
type InvariantError struct {
	Template string
	Slot     Slot
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Template, ErrMissingPlaceholder, e.Slot)
}

// Is makes errors.Is(err, ErrMissingPlaceholder) match.
func (e *InvariantError) Is(target error) bool {
	return target == ErrMissingPlaceholder
}

// Values maps slots to the text that replaces them.
type Values map[Slot]string

// Template is named text carrying slot tokens.
type Template struct {
	name string
	text string
}

// New creates a template. The name is used in error messages.
func New(name, text string) *Template {
	return &Template{name: name, text: text}
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// String returns the current text.
func (t *Template) String() string { return t.text }

// Has reports whether the slot token occurs in the text.
func (t *Template) Has(s Slot) bool {
	return strings.Contains(t.text, string(s))
}

// Require returns an *InvariantError for the first slot absent from the text.
func (t *Template) Require(slots ...Slot) error {
	for _, s := range slots {
		if !t.Has(s) {
			return &InvariantError{Template: t.name, Slot: s}
		}
	}
	return nil
}

// Resolve returns a new template with every slot in values replaced.
// Every slot given must occur in the text.
func (t *Template) Resolve(values Values) (*Template, error) {
	slots := make([]Slot, 0, len(values))
	for s := range values {
		slots = append(slots, s)
	}
	if err := t.Require(slots...); err != nil {
		return nil, err
	}
	return t.resolve(slots, values), nil
}

// ResolveOptional is Resolve without the presence check.
func (t *Template) ResolveOptional(values Values) *Template {
	slots := make([]Slot, 0, len(values))
	for s := range values {
		slots = append(slots, s)
	}
	return t.resolve(slots, values)
}

func (t *Template) resolve(slots []Slot, values Values) *Template {
	if len(slots) == 0 {
		return &Template{name: t.name, text: t.text}
	}

	// Longest token first so that a token which prefixes another never wins.
	sort.Slice(slots, func(i, j int) bool {
		if len(slots[i]) != len(slots[j]) {
			return len(slots[i]) > len(slots[j])
		}
		return slots[i] < slots[j]
	})

	pairs := make([]string, 0, 2*len(slots))
	for _, s := range slots {
		pairs = append(pairs, string(s), values[s])
	}

	return &Template{name: t.name, text: strings.NewReplacer(pairs...).Replace(t.text)}
}
