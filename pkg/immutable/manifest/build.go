package manifest

import (
	"context"
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/walk"
)

// DefaultHiddenPrefix marks the renamed copy of a page whose public path
// holds a loader shell.
const DefaultHiddenPrefix = "_hidden."

// Options configures Build.
type Options struct {
	// Root is the output tree.
	Root string

	// Algorithm is the digest encoding. Defaults to digest.SHA256Base64.
	Algorithm digest.Algorithm

	// WorkerName is excluded from the manifest. Defaults to WorkerLatest.
	WorkerName string

	// HiddenPrefix names hidden originals. Defaults to DefaultHiddenPrefix.
	HiddenPrefix string

	// Exclude holds doublestar patterns matched against paths without
	// the leading slash.
	Exclude []string

	// Concurrency bounds parallel file hashing. Defaults to GOMAXPROCS.
	Concurrency int
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.Root == "" {
		return fmt.Errorf("root is required")
	}
	if o.Algorithm == "" {
		o.Algorithm = digest.SHA256Base64
	}
	if o.WorkerName == "" {
		o.WorkerName = WorkerLatest
	}
	if o.HiddenPrefix == "" {
		o.HiddenPrefix = DefaultHiddenPrefix
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.GOMAXPROCS(0)
	}
	for _, p := range o.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern: %q", p)
		}
	}
	return nil
}

// Build enumerates the tree and digests every deliverable file.
func Build(ctx context.Context, opts Options) (Manifest, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	files, err := walk.Walk(ctx, walk.Options{Root: opts.Root})
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	excluded := Excluded(paths, opts.WorkerName, opts.HiddenPrefix, opts.Exclude)

	keep := make([]walk.File, 0, len(files))
	for _, f := range files {
		if !excluded[f.Path] {
			keep = append(keep, f)
		}
	}

	m := make(Manifest, len(keep))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, f := range keep {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(f.Abs)
			if err != nil {
				return err
			}
			m[i] = Record{Path: f.Path, Digest: digest.Compute(opts.Algorithm, data)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("digest files: %w", err)
	}

	return m, nil
}

// Excluded returns the set of paths that must not appear in a manifest:
// the worker's stable name, every hidden original together with the loader
// shell at its public path, and anything matching an exclude pattern.
func Excluded(paths []string, workerName, hiddenPrefix string, patterns []string) map[string]bool {
	out := make(map[string]bool)
	for _, p := range paths {
		dir, name := path.Split(p)

		if name == workerName {
			out[p] = true
		}

		if hiddenPrefix != "" {
			if public, ok := strings.CutPrefix(name, hiddenPrefix); ok && public != "" {
				out[p] = true
				out[dir+public] = true
			}
		}

		for _, pat := range patterns {
			if ok, _ := doublestar.Match(pat, strings.TrimPrefix(p, "/")); ok {
				out[p] = true
			}
		}
	}
	return out
}

// HiddenName returns the hidden original path for a public page path.
func HiddenName(p, prefix string) string {
	dir, name := path.Split(p)
	return dir + prefix + name
}
