// Package verify checks a published output tree offline: every document
// must still match the canonical digest its loader carries, and the worker
// manifest must describe exactly the files the tree delivers.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/loader"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/versioner"
	"github.com/jamesainslie/immutable/pkg/immutable/walk"
)

// Problems found in the worker manifest.
const (
	ProblemMissing  = "missing"  // listed but absent from the tree
	ProblemMismatch = "mismatch" // listed with a different digest
	ProblemUnlisted = "unlisted" // delivered but not listed
	ProblemPinned   = "pinned"   // version-named copy absent or different
)

// Options configure a verification.
type Options struct {
	// Manifest describes how the tree was versioned. Root is required.
	Manifest manifest.Options

	// SkipWorker skips the worker checks.
	SkipWorker bool
}

// PageResult is the verdict on one document.
type PageResult struct {
	Path  string `json:"path" yaml:"path"`
	Hash  string `json:"hash,omitempty" yaml:"hash,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the document verified.
func (p PageResult) OK() bool { return p.Error == "" }

// Problem is one manifest discrepancy.
type Problem struct {
	Path   string `json:"path" yaml:"path"`
	Kind   string `json:"kind" yaml:"kind"`
	Want   string `json:"want,omitempty" yaml:"want,omitempty"`
	Actual string `json:"actual,omitempty" yaml:"actual,omitempty"`
}

// WorkerResult is the verdict on the worker.
type WorkerResult struct {
	Version  string    `json:"version" yaml:"version"`
	Pinned   string    `json:"pinned" yaml:"pinned"`
	Files    int       `json:"files" yaml:"files"`
	Problems []Problem `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// Report is the outcome of a verification.
type Report struct {
	Root     string        `json:"root" yaml:"root"`
	Pages    []PageResult  `json:"pages" yaml:"pages"`
	Worker   *WorkerResult `json:"worker,omitempty" yaml:"worker,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Failures counts failed documents and manifest problems.
func (r *Report) Failures() int {
	n := 0
	for _, p := range r.Pages {
		if !p.OK() {
			n++
		}
	}
	if r.Worker != nil {
		n += len(r.Worker.Problems)
	}
	return n
}

// Run verifies the tree. A non-nil error means the verification itself
// could not be carried out; findings are in the report.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if err := opts.Manifest.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	root := opts.Manifest.Root
	report := &Report{Root: root}

	pages, err := verifyPages(ctx, opts.Manifest)
	if err != nil {
		return nil, err
	}
	report.Pages = pages

	if !opts.SkipWorker {
		w, err := verifyWorker(ctx, opts.Manifest)
		if err != nil {
			return nil, err
		}
		report.Worker = w
	}

	report.Duration = time.Since(start)
	logging.Get("verify").Info("verified tree", "root", root, "pages", len(report.Pages), "failures", report.Failures())
	return report, nil
}

func verifyPages(ctx context.Context, opts manifest.Options) ([]PageResult, error) {
	files, err := walk.Walk(ctx, walk.Options{
		Root: opts.Root,
		Skip: func(rel string, isDir bool) bool {
			return !isDir && strings.HasPrefix(path.Base(rel), opts.HiddenPrefix)
		},
	})
	if err != nil {
		return nil, err
	}

	var docs []walk.File
	for _, f := range files {
		switch strings.ToLower(path.Ext(f.Path)) {
		case ".html", ".htm":
			docs = append(docs, f)
		}
	}

	results := make([]PageResult, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, f := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := os.ReadFile(f.Abs)
			if err != nil {
				return err
			}
			results[i] = PageResult{Path: f.Path}
			hash, err := loader.Verify(src)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Hash = hash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func verifyWorker(ctx context.Context, opts manifest.Options) (*WorkerResult, error) {
	latest := "/" + opts.WorkerName
	source, err := os.ReadFile(walk.Abs(opts.Root, latest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no worker at %s: %w", latest, err)
		}
		return nil, err
	}

	listed, err := manifest.Extract(source)
	if err != nil {
		return nil, err
	}

	version := versioner.Version(source)
	result := &WorkerResult{
		Version: version,
		Pinned:  versioner.VersionedName(latest, version),
		Files:   len(listed),
	}

	pinned, err := os.ReadFile(walk.Abs(opts.Root, result.Pinned))
	if err != nil || !bytes.Equal(pinned, source) {
		result.Problems = append(result.Problems, Problem{Path: result.Pinned, Kind: ProblemPinned})
	}

	// Version-named copies of the worker are never listed.
	opts.Exclude = append(append([]string(nil), opts.Exclude...), pinnedPattern(latest))
	delivered, err := manifest.Build(ctx, opts)
	if err != nil {
		return nil, err
	}
	actual := delivered.Map()

	for _, rec := range listed {
		got, ok := actual[rec.Path]
		if !ok {
			result.Problems = append(result.Problems, Problem{Path: rec.Path, Kind: ProblemMissing, Want: rec.Digest})
			continue
		}
		if !sameDigest(rec.Digest, got) {
			result.Problems = append(result.Problems, Problem{Path: rec.Path, Kind: ProblemMismatch, Want: rec.Digest, Actual: got})
		}
	}

	expected := listed.Map()
	for _, rec := range delivered {
		if _, ok := expected[rec.Path]; !ok {
			result.Problems = append(result.Problems, Problem{Path: rec.Path, Kind: ProblemUnlisted, Actual: rec.Digest})
		}
	}

	sort.Slice(result.Problems, func(i, j int) bool { return result.Problems[i].Path < result.Problems[j].Path })
	return result, nil
}

func pinnedPattern(latest string) string {
	return strings.TrimPrefix(versioner.VersionedName(latest, "*"), "/")
}

// sameDigest compares two digests by value whatever their encodings.
func sameDigest(a, b string) bool {
	sa, _, errA := digest.Decode(a)
	sb, _, errB := digest.Decode(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return bytes.Equal(sa, sb)
}
