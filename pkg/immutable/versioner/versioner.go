// Package versioner turns a prototype service worker into a versioned,
// manifest-bearing artifact.
package versioner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/fsutil"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/template"
	"github.com/jamesainslie/immutable/pkg/immutable/walk"
)

// VersionLength is the number of hex characters in a Content Version.
const VersionLength = 6

// Options configures a versioning run.
type Options struct {
	// Manifest configures how the tree is enumerated and digested.
	Manifest manifest.Options

	// Prototype is the path of the worker source carrying the FILES slot.
	// Defaults to the stable-named worker inside the tree.
	Prototype string
}

// Result describes a versioned worker.
type Result struct {
	Version  string            `json:"version" yaml:"version"`
	Latest   string            `json:"latest" yaml:"latest"`
	Pinned   string            `json:"pinned" yaml:"pinned"`
	Manifest manifest.Manifest `json:"manifest" yaml:"manifest"`
	Size     int               `json:"size" yaml:"size"`
}

// Version returns the Content Version of a fully resolved worker source.
func Version(source []byte) string {
	return digest.Hex(source)[:VersionLength]
}

// VersionedName returns the file name of the worker pinned to version.
// "service_worker.latest.js" becomes "service_worker.<version>.js".
func VersionedName(latest, version string) string {
	dir, name := path.Split(latest)
	base, _, _ := strings.Cut(name, ".")
	return dir + base + "." + version + ".js"
}

// Resolve substitutes the manifest into the worker prototype. A prototype
// without the FILES slot is a build invariant violation.
func Resolve(prototype *template.Template, m manifest.Manifest) ([]byte, error) {
	files, err := m.JSON()
	if err != nil {
		return nil, err
	}
	resolved, err := prototype.Resolve(template.Values{template.Files: files})
	if err != nil {
		return nil, err
	}
	return []byte(resolved.String()), nil
}

// Run builds the manifest of the tree, embeds it into the worker and
// writes both the stable and the version-named copies.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Manifest.Validate(); err != nil {
		return nil, err
	}
	root := opts.Manifest.Root
	latest := "/" + opts.Manifest.WorkerName

	protoPath := opts.Prototype
	if protoPath == "" {
		protoPath = walk.Abs(root, latest)
	}
	raw, err := os.ReadFile(protoPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("worker prototype %s not found: %w", protoPath, err)
		}
		return nil, err
	}

	prototype := template.New(protoPath, string(raw))
	if err := prototype.Require(template.Files); err != nil {
		return nil, err
	}

	m, err := manifest.Build(ctx, opts.Manifest)
	if err != nil {
		return nil, err
	}

	source, err := Resolve(prototype, m)
	if err != nil {
		return nil, err
	}

	version := Version(source)
	pinned := VersionedName(latest, version)

	if err := fsutil.WriteFile(walk.Abs(root, latest), source, 0o644); err != nil {
		return nil, err
	}
	if err := fsutil.WriteFile(walk.Abs(root, pinned), source, 0o644); err != nil {
		return nil, err
	}

	logging.Get("versioner").Info("versioned worker", "version", version, "files", len(m))

	return &Result{
		Version:  version,
		Latest:   latest,
		Pinned:   pinned,
		Manifest: m,
		Size:     len(source),
	}, nil
}
