// Package history keeps a log of publish operations on disk, one JSON
// file per operation.
package history

import "time"

// Operation names a recorded operation.
type Operation string

const (
	// OpBuild records a build of an output tree.
	OpBuild Operation = "build"
	// OpVerify records a verification of an output tree.
	OpVerify Operation = "verify"
	// OpMirror records a generation activated by the edge mirror.
	OpMirror Operation = "mirror"
)

// Entry is one recorded operation.
type Entry struct {
	ID        string       `json:"id" yaml:"id"`
	Timestamp time.Time    `json:"timestamp" yaml:"timestamp"`
	Operation Operation    `json:"operation" yaml:"operation"`
	Root      string       `json:"root" yaml:"root"`
	Version   string       `json:"version,omitempty" yaml:"version,omitempty"`
	Pages     []PageRecord `json:"pages,omitempty" yaml:"pages,omitempty"`
	Summary   Summary      `json:"summary" yaml:"summary"`
	Error     string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// PageRecord is the canonical hash recorded for one document.
type PageRecord struct {
	Path string `json:"path" yaml:"path"`
	Hash string `json:"hash" yaml:"hash"`
}

// Summary holds operation totals.
type Summary struct {
	Pages    int   `json:"pages" yaml:"pages"`
	Files    int   `json:"files" yaml:"files"`
	Bytes    int64 `json:"bytes" yaml:"bytes"`
	Failures int   `json:"failures,omitempty" yaml:"failures,omitempty"`
}
