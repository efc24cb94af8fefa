package manifest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestBuildCompleteness(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html":               "<html></html>",
		"app.js":                   "console.log(1)",
		"nested/page.html":         "<p>x</p>",
		"service_worker.latest.js": "const files = FILES",
	})

	m, err := manifest.Build(context.Background(), manifest.Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, []string{"/app.js", "/index.html", "/nested/page.html"}, m.Paths())

	d, ok := m.Lookup("/app.js")
	require.True(t, ok)
	assert.Equal(t, digest.SRI([]byte("console.log(1)")), d)

	_, ok = m.Lookup("/service_worker.latest.js")
	assert.False(t, ok)
}

func TestBuildHexAlgorithm(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "a"})

	m, err := manifest.Build(context.Background(), manifest.Options{Root: root, Algorithm: digest.SHA256Hex})
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, digest.Hex([]byte("a")), m[0].Digest)
}

func TestBuildExcludesHiddenOriginalPairs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html":              "shell",
		"_hidden.index.html":      "original",
		"about.html":              "about",
		"docs/guide.html":         "shell",
		"docs/_hidden.guide.html": "original",
	})

	m, err := manifest.Build(context.Background(), manifest.Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, []string{"/about.html"}, m.Paths())
}

func TestBuildExcludePatterns(t *testing.T) {
	root := writeTree(t, map[string]string{
		"app.js":            "a",
		"app.js.map":        "m",
		"static/x/y.js.map": "m",
	})

	m, err := manifest.Build(context.Background(), manifest.Options{
		Root:    root,
		Exclude: []string{"**/*.map"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/app.js"}, m.Paths())

	_, err = manifest.Build(context.Background(), manifest.Options{Root: root, Exclude: []string{"[x"}})
	assert.Error(t, err)
}

func TestJSONForm(t *testing.T) {
	m := manifest.Manifest{
		{Path: "/a.js", Digest: "sha256-AAA="},
		{Path: "/<b>.html", Digest: "sha256-BBB="},
	}

	s, err := m.JSON()
	require.NoError(t, err)
	assert.Equal(t, `[["/a.js","sha256-AAA="],["/<b>.html","sha256-BBB="]]`, s)

	empty, err := manifest.Manifest(nil).JSON()
	require.NoError(t, err)
	assert.Equal(t, `[]`, empty)
}

func TestExtract(t *testing.T) {
	m := manifest.Manifest{
		{Path: "/a.js", Digest: "sha256-AAA="},
		{Path: "/index.html", Digest: "sha256-BBB="},
	}
	s, err := m.JSON()
	require.NoError(t, err)

	src := "self.addEventListener(\"install\",()=>self.skipWaiting());const c=new Cache(new Map(" + s + "));[1,2];"

	got, err := manifest.Extract([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = manifest.Extract([]byte("const files = FILES"))
	assert.ErrorIs(t, err, manifest.ErrNoManifest)
}

func TestRecordUnmarshalRejectsBadShape(t *testing.T) {
	_, err := manifest.Parse([]byte(`[["/a.js"]]`))
	assert.Error(t, err)
}

func TestExcluded(t *testing.T) {
	ex := manifest.Excluded(
		[]string{"/index.html", "/_hidden.index.html", "/_hidden.", "/service_worker.latest.js", "/x.js"},
		manifest.WorkerLatest, manifest.DefaultHiddenPrefix, nil)

	assert.True(t, ex["/index.html"])
	assert.True(t, ex["/_hidden.index.html"])
	assert.True(t, ex["/service_worker.latest.js"])
	assert.False(t, ex["/x.js"])
	assert.False(t, ex["/_hidden."])

	assert.Equal(t, "/docs/_hidden.a.html", manifest.HiddenName("/docs/a.html", manifest.DefaultHiddenPrefix))
}
