package worker

import (
	"context"
	"fmt"

	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/versioner"
)

// Deployment is the worker currently published on an origin.
type Deployment struct {
	Version  string
	Manifest manifest.Manifest
	Source   []byte
}

// Discover fetches the stable worker through f and reads its Content
// Version and manifest.
func Discover(ctx context.Context, f Fetcher) (*Deployment, error) {
	res, err := f.Fetch(ctx, "/"+manifest.WorkerLatest)
	if err != nil {
		return nil, fmt.Errorf("fetch worker: %w", err)
	}
	m, err := manifest.Extract(res.Body)
	if err != nil {
		return nil, err
	}
	return &Deployment{
		Version:  versioner.Version(res.Body),
		Manifest: m,
		Source:   res.Body,
	}, nil
}
