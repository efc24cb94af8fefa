// Package manifest builds and reads the file manifest that a versioned
// service worker carries: one (path, digest) record per deliverable file.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// WorkerLatest is the stable name of the worker script. It never appears
// in its own manifest.
const WorkerLatest = "service_worker.latest.js"

// ErrNoManifest is returned by Extract when the source carries no manifest.
var ErrNoManifest = errors.New("no manifest found in worker source")

// Record is one deliverable file.
type Record struct {
	Path   string
	Digest string
}

// MarshalJSON encodes the record as a ["path","digest"] pair.
func (r Record) MarshalJSON() ([]byte, error) {
	return marshal([2]string{r.Path, r.Digest})
}

// UnmarshalJSON decodes a ["path","digest"] pair.
func (r *Record) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("manifest record: want 2 elements, got %d", len(pair))
	}
	r.Path, r.Digest = pair[0], pair[1]
	return nil
}

// Manifest is an ordered list of records, sorted by path.
type Manifest []Record

// Sort orders the records by path.
func (m Manifest) Sort() {
	sort.Slice(m, func(i, j int) bool { return m[i].Path < m[j].Path })
}

// Lookup returns the digest recorded for path.
func (m Manifest) Lookup(path string) (string, bool) {
	i := sort.Search(len(m), func(i int) bool { return m[i].Path >= path })
	if i < len(m) && m[i].Path == path {
		return m[i].Digest, true
	}
	return "", false
}

// Map returns the manifest as a path to digest map.
func (m Manifest) Map() map[string]string {
	out := make(map[string]string, len(m))
	for _, r := range m {
		out[r.Path] = r.Digest
	}
	return out
}

// Paths returns the recorded paths in order.
func (m Manifest) Paths() []string {
	out := make([]string, len(m))
	for i, r := range m {
		out[i] = r.Path
	}
	return out
}

// JSON serializes the manifest in the form substituted into the worker:
// [["/path","digest"],...]. HTML characters are not escaped.
func (m Manifest) JSON() (string, error) {
	if m == nil {
		m = Manifest{}
	}
	b, err := marshal([]Record(m))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse decodes a serialized manifest.
func Parse(b []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.Sort()
	return m, nil
}

// manifestRe matches a serialized manifest with at least one record.
var manifestRe = regexp.MustCompile(`\[\["/(?:[^"\\]|\\.)*","(?:[^"\\]|\\.)*"\](?:,\["/(?:[^"\\]|\\.)*","(?:[^"\\]|\\.)*"\])*\]`)

// Extract recovers the manifest embedded in a built worker source.
func Extract(workerSource []byte) (Manifest, error) {
	loc := manifestRe.Find(workerSource)
	if loc == nil {
		return nil, ErrNoManifest
	}
	return Parse(loc)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
