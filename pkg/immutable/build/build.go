// Package build runs the publish pipeline over an output tree: inject and
// hash every document, then version the service worker with the manifest
// of the finished tree.
package build

import (
	"context"
	"errors"
	"time"

	"github.com/jamesainslie/immutable/pkg/immutable/injector"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/versioner"
)

// Options configures a pipeline run. Root is shared by both steps.
type Options struct {
	Root      string
	Injector  injector.Options
	Manifest  manifest.Options
	Prototype string

	// SkipWorker disables versioning, for trees without a worker.
	SkipWorker bool
}

// Report describes one pipeline run.
type Report struct {
	Root      string            `json:"root" yaml:"root"`
	Pages     []injector.Page   `json:"pages" yaml:"pages"`
	Worker    *versioner.Result `json:"worker,omitempty" yaml:"worker,omitempty"`
	StartedAt time.Time         `json:"started_at" yaml:"started_at"`
	Duration  time.Duration     `json:"duration" yaml:"duration"`
}

// Injected returns the number of documents rewritten by this run.
func (r *Report) Injected() int {
	n := 0
	for _, p := range r.Pages {
		if !p.Skipped {
			n++
		}
	}
	return n
}

// Run executes the pipeline. Documents are injected before the worker is
// versioned so the manifest covers their final bytes.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Root == "" {
		return nil, errors.New("build: root is required")
	}
	opts.Injector.Root = opts.Root
	opts.Manifest.Root = opts.Root
	if opts.Injector.HiddenPrefix == "" {
		opts.Injector.HiddenPrefix = opts.Manifest.HiddenPrefix
	}

	log := logging.Get("build")
	report := &Report{Root: opts.Root, StartedAt: time.Now()}

	in, err := injector.New(opts.Injector)
	if err != nil {
		return nil, err
	}
	pages, err := in.Run(ctx)
	if err != nil {
		return nil, err
	}
	report.Pages = pages

	if !opts.SkipWorker {
		worker, err := versioner.Run(ctx, versioner.Options{
			Manifest:  opts.Manifest,
			Prototype: opts.Prototype,
		})
		if err != nil {
			return nil, err
		}
		report.Worker = worker
	}

	report.Duration = time.Since(report.StartedAt)
	log.Info("build complete", "root", opts.Root, "pages", len(pages), "duration", report.Duration)
	return report, nil
}
