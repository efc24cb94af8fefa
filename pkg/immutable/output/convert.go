package output

import (
	"fmt"
	"sort"

	"github.com/jamesainslie/immutable/pkg/immutable/build"
	"github.com/jamesainslie/immutable/pkg/immutable/history"
	"github.com/jamesainslie/immutable/pkg/immutable/verify"
	"github.com/jamesainslie/immutable/pkg/immutable/worker"
)

// FromBuild describes a pipeline run: one item per document plus the
// version-named worker.
func FromBuild(r *build.Report) *Result {
	res := &Result{
		Operation: string(history.OpBuild),
		Source:    r.Root,
		Duration:  r.Duration,
	}
	for _, p := range r.Pages {
		it := Item{Path: p.Path, Status: StatusOK, Digest: p.Hash}
		switch {
		case p.Skipped:
			it.Status = StatusSkipped
			it.Detail = "already injected"
		case p.Hidden != "":
			it.Detail = "original at " + p.Hidden
		default:
			it.Detail = plural(len(p.Sources), "script")
		}
		res.Items = append(res.Items, it)
	}
	if w := r.Worker; w != nil {
		res.Version = w.Version
		res.Items = append(res.Items, Item{
			Path:   w.Pinned,
			Status: StatusOK,
			Digest: w.Version,
			Size:   int64(w.Size),
			Detail: plural(len(w.Manifest), "file"),
		})
	}
	return res
}

// FromVerify describes a verification. Every failed document and every
// manifest problem counts as a failure.
func FromVerify(r *verify.Report) *Result {
	res := &Result{
		Operation: string(history.OpVerify),
		Source:    r.Root,
		Duration:  r.Duration,
		Failures:  r.Failures(),
	}
	for _, p := range r.Pages {
		it := Item{Path: p.Path, Status: StatusOK, Digest: p.Hash}
		if !p.OK() {
			it.Status = StatusFailed
			it.Detail = p.Error
		}
		res.Items = append(res.Items, it)
	}
	if w := r.Worker; w != nil {
		res.Version = w.Version
		for _, p := range w.Problems {
			res.Items = append(res.Items, Item{
				Path:   p.Path,
				Status: StatusFailed,
				Digest: p.Want,
				Detail: p.Kind,
			})
		}
		if len(w.Problems) == 0 {
			res.Items = append(res.Items, Item{
				Path:   w.Pinned,
				Status: StatusOK,
				Digest: w.Version,
				Detail: plural(w.Files, "file"),
			})
		}
	}
	return res
}

// FromGenerations describes the generations held by a worker store.
// active marks the generation currently served.
func FromGenerations(source, active string, gens []worker.GenerationInfo) *Result {
	res := &Result{Operation: "cache", Source: source, Version: active}
	for _, g := range gens {
		status := StatusStored
		if g.Version == active {
			status = StatusActive
		}
		res.Items = append(res.Items, Item{
			Path:   g.Version,
			Status: status,
			Size:   g.Bytes,
			Detail: plural(g.Entries, "entry"),
		})
	}
	return res
}

// FromHistory lists recorded operations, newest first.
func FromHistory(source string, entries []history.Entry) *Result {
	sorted := append([]history.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

	res := &Result{Operation: "history", Source: source}
	for _, e := range sorted {
		it := Item{
			Path:   e.ID,
			Status: StatusOK,
			Digest: e.Version,
			Size:   e.Summary.Bytes,
			Detail: fmt.Sprintf("%s %s", e.Operation, e.Root),
			Time:   e.Timestamp,
		}
		if e.Error != "" || e.Summary.Failures > 0 {
			it.Status = StatusFailed
			res.Failures++
		}
		res.Items = append(res.Items, it)
	}
	return res
}

// FromEntry describes one recorded operation page by page.
func FromEntry(e *history.Entry) *Result {
	res := &Result{
		Operation: string(e.Operation),
		Source:    e.Root,
		Version:   e.Version,
		Failures:  e.Summary.Failures,
	}
	for _, p := range e.Pages {
		res.Items = append(res.Items, Item{Path: p.Path, Status: StatusOK, Digest: p.Hash, Time: e.Timestamp})
	}
	if e.Error != "" {
		res.Warnings = append(res.Warnings, e.Error)
	}
	return res
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if noun == "entry" {
		return fmt.Sprintf("%d entries", n)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
