package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/immutable/pkg/immutable/build"
	"github.com/jamesainslie/immutable/pkg/immutable/history"
	"github.com/jamesainslie/immutable/pkg/immutable/injector"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/verify"
	"github.com/jamesainslie/immutable/pkg/immutable/versioner"
	"github.com/jamesainslie/immutable/pkg/immutable/worker"
)

const hash = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func sampleResult() *Result {
	return &Result{
		Operation: "build",
		Source:    "/srv/site",
		Version:   "a1b2c3",
		Items: []Item{
			{Path: "/index.html", Status: StatusOK, Digest: hash, Detail: "2 scripts"},
			{Path: "/a|b.html", Status: StatusSkipped, Detail: "already injected"},
			{Path: "/service_worker.a1b2c3.js", Status: StatusOK, Digest: "a1b2c3", Size: 2048},
		},
		Duration: 1500 * time.Millisecond,
		Warnings: []string{"loader not found"},
	}
}

func format(t *testing.T, name string, r *Result) string {
	t.Helper()
	f, err := Get(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, r))
	return buf.String()
}

func TestRegistry(t *testing.T) {
	assert.Equal(t,
		[]string{"csv", "json", "jsonl", "markdown", "paths", "plain", "pretty", "template", "yaml"},
		Available())

	_, err := Get("xml")
	assert.ErrorContains(t, err, "unknown formatter: xml")

	reg := NewRegistry()
	reg.Register("paths", func() Formatter { return &PathsFormatter{} })
	assert.Equal(t, []string{"paths"}, reg.Available())
}

func TestResultTotals(t *testing.T) {
	r := sampleResult()
	assert.Equal(t, int64(2048), r.TotalSize())
	assert.Equal(t, 2, r.Count(StatusOK))
	assert.Equal(t, 1, r.Count(StatusSkipped))
	assert.Zero(t, r.Count(StatusFailed))
}

func TestPretty(t *testing.T) {
	out := format(t, "pretty", sampleResult())

	assert.Contains(t, out, "/srv/site")
	assert.Contains(t, out, "a1b2c3")
	assert.Contains(t, out, hash[:digestWidth])
	assert.NotContains(t, out, hash)
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "no failures")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "loader not found")

	empty := format(t, "pretty", &Result{Operation: "cache", Source: "/var/cache", Failures: 2})
	assert.Contains(t, empty, "Nothing to show")
	assert.Contains(t, empty, "2 failed")
}

func TestPlainAndPaths(t *testing.T) {
	out := format(t, "plain", sampleResult())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "STATUS"))
	assert.Contains(t, lines[2], "-")

	assert.Equal(t, "/index.html\n/a|b.html\n/service_worker.a1b2c3.js\n", format(t, "paths", sampleResult()))
}

func TestCSVAndMarkdown(t *testing.T) {
	records, err := csv.NewReader(strings.NewReader(format(t, "csv", sampleResult()))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, tableColumns, records[0])
	assert.Equal(t, []string{"ok", "/service_worker.a1b2c3.js", "a1b2c3", "2048", ""}, records[3])

	md := format(t, "markdown", sampleResult())
	assert.Contains(t, md, "| STATUS | PATH | DIGEST | SIZE | DETAIL |")
	assert.Contains(t, md, `/a\|b.html`)
}

func TestJSONAndYAML(t *testing.T) {
	var doc struct {
		Items []Item         `json:"items"`
		Meta  map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal([]byte(format(t, "json", sampleResult())), &doc))
	assert.Len(t, doc.Items, 3)
	assert.Equal(t, "a1b2c3", doc.Meta["version"])
	assert.EqualValues(t, 2048, doc.Meta["total_size"])
	assert.Equal(t, "1.5s", doc.Meta["duration"])

	jsonl := strings.Split(strings.TrimSpace(format(t, "jsonl", sampleResult())), "\n")
	assert.Len(t, jsonl, 3)
	assert.NotContains(t, jsonl[0], "time")

	var y map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(format(t, "yaml", sampleResult())), &y))
	assert.Len(t, y["items"], 3)

	empty := format(t, "json", &Result{})
	assert.Contains(t, empty, `"items": []`)
}

func TestTemplate(t *testing.T) {
	f, err := NewTemplateFormatter(`{{range .Items}}{{short .Digest 6}} {{bytes .Size}}{{"\n"}}{{end}}{{.TotalSize}}`)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleResult()))
	assert.Equal(t, "012345 0 B\n 0 B\na1b2c3 2.0 KiB\n2048", buf.String())

	require.NoError(t, f.SetTemplate(`{{range .Items}}{{date .Time "2006"}}{{end}}`))
	buf.Reset()
	require.NoError(t, f.Format(&buf, &Result{Items: []Item{{Time: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}, {}}}))
	assert.Equal(t, "2024", buf.String())

	require.NoError(t, f.SetTemplate(`{{.Ok}}/{{.Failed}}{{range .Items}}{{if failed .}} {{.Path}}{{end}}{{end}}`))
	buf.Reset()
	res := sampleResult()
	res.Items[1].Status = StatusFailed
	require.NoError(t, f.Format(&buf, res))
	assert.Equal(t, "2/1 /a|b.html", buf.String())

	// A template that does not parse leaves the previous one in place.
	require.Error(t, f.SetTemplate(`{{.Nope`))
	buf.Reset()
	require.NoError(t, f.Format(&buf, sampleResult()))
	assert.Equal(t, "2/0", buf.String())

	_, err = NewTemplateFormatter(`{{end}}`)
	assert.Error(t, err)

	assert.Contains(t, format(t, "template", sampleResult()), "ok\t/index.html\t"+hash)
}

func TestFromBuild(t *testing.T) {
	r := FromBuild(&build.Report{
		Root: "/srv/site",
		Pages: []injector.Page{
			{Path: "/index.html", Hash: hash, Sources: []string{"'sha256-x'"}},
			{Path: "/about.html", Hash: hash, Hidden: "/_hidden.about.html"},
			{Path: "/done.html", Skipped: true},
		},
		Worker: &versioner.Result{
			Version:  "a1b2c3",
			Pinned:   "/service_worker.a1b2c3.js",
			Manifest: manifest.Manifest{{Path: "/index.html", Digest: "d"}},
			Size:     100,
		},
	})

	assert.Equal(t, "build", r.Operation)
	assert.Equal(t, "a1b2c3", r.Version)
	require.Len(t, r.Items, 4)
	assert.Equal(t, "1 script", r.Items[0].Detail)
	assert.Equal(t, "original at /_hidden.about.html", r.Items[1].Detail)
	assert.Equal(t, StatusSkipped, r.Items[2].Status)
	assert.Equal(t, Item{Path: "/service_worker.a1b2c3.js", Status: StatusOK, Digest: "a1b2c3", Size: 100, Detail: "1 file"}, r.Items[3])
}

func TestFromVerify(t *testing.T) {
	r := FromVerify(&verify.Report{
		Root: "/srv/site",
		Pages: []verify.PageResult{
			{Path: "/index.html", Hash: hash},
			{Path: "/bad.html", Error: "integrity mismatch"},
		},
		Worker: &verify.WorkerResult{
			Version:  "a1b2c3",
			Problems: []verify.Problem{{Path: "/app.js", Kind: verify.ProblemMissing, Want: "d"}},
		},
	})

	assert.Equal(t, 2, r.Failures)
	assert.Equal(t, 2, r.Count(StatusFailed))
	assert.Equal(t, "integrity mismatch", r.Items[1].Detail)
	assert.Equal(t, verify.ProblemMissing, r.Items[2].Detail)
}

func TestFromGenerationsAndHistory(t *testing.T) {
	gens := FromGenerations("/var/cache", "bbbbbb", []worker.GenerationInfo{
		{Version: "aaaaaa", Entries: 1, Bytes: 10},
		{Version: "bbbbbb", Entries: 3, Bytes: 30},
	})
	assert.Equal(t, []Status{StatusStored, StatusActive}, []Status{gens.Items[0].Status, gens.Items[1].Status})
	assert.Equal(t, "1 entry", gens.Items[0].Detail)
	assert.Equal(t, "3 entries", gens.Items[1].Detail)

	now := time.Now()
	hist := FromHistory("/var/history", []history.Entry{
		{ID: "old", Timestamp: now.Add(-time.Hour), Operation: history.OpBuild, Root: "/srv"},
		{ID: "new", Timestamp: now, Operation: history.OpVerify, Root: "/srv", Summary: history.Summary{Failures: 1}},
	})
	assert.Equal(t, "new", hist.Items[0].Path)
	assert.Equal(t, StatusFailed, hist.Items[0].Status)
	assert.Equal(t, "verify /srv", hist.Items[0].Detail)
	assert.Equal(t, 1, hist.Failures)

	entry := FromEntry(&history.Entry{
		Operation: history.OpBuild,
		Root:      "/srv",
		Version:   "a1b2c3",
		Pages:     []history.PageRecord{{Path: "/index.html", Hash: hash}},
		Error:     "boom",
	})
	assert.Equal(t, "build", entry.Operation)
	assert.Len(t, entry.Items, 1)
	assert.Equal(t, []string{"boom"}, entry.Warnings)
}
