package injector_test

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/injector"
	"github.com/jamesainslie/immutable/pkg/immutable/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var embeddedHash = regexp.MustCompile(`const EXPECTED = "([0-9a-f]{64})"`)

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

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestSingleFileSiteEmbedsVerifiableHash(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html": "<!DOCTYPE html>\n<html>\n  <head><title>Hi</title></head>\n  <body><p>Hello<br/></p></body>\n</html>\n",
	})

	in, err := injector.New(injector.Options{Root: root, CheckLoader: true})
	require.NoError(t, err)

	pages, err := in.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 1)

	out := readFile(t, root, "index.html")
	m := embeddedHash.FindStringSubmatch(out)
	require.NotNil(t, m, "output must embed a 64 hex character hash")

	assert.Equal(t, pages[0].Hash, m[1])
	assert.Equal(t, m[1], digest.DocumentHash(out, m[1]))
	assert.NotContains(t, out, string(template.Hash))
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html><html><head><script type=\"module\" data-immutable=\"\">"))
	assert.True(t, strings.HasPrefix(pages[0].LoaderSRI, "sha256-"))
}

func TestScriptsArePinned(t *testing.T) {
	inline := "window.x = 1;"
	page := `<html><head><script src="/_next/app.js"></script></head>` +
		`<body><script src="local.js?v=1"></script><script>` + inline + `</script></body></html>`
	root := writeTree(t, map[string]string{
		"_next/app.js":   "console.log('app')",
		"docs/local.js":  "console.log('local')",
		"docs/page.html": page,
	})

	in, err := injector.New(injector.Options{Root: root})
	require.NoError(t, err)

	result, err := in.InjectFile("/docs/page.html")
	require.NoError(t, err)

	want := []string{
		digest.Source([]byte("console.log('app')")),
		digest.Source([]byte("console.log('local')")),
		digest.Source([]byte(inline)),
	}
	assert.Equal(t, want, result.Sources)

	out := readFile(t, root, "docs/page.html")
	assert.Contains(t, out, `integrity="`+digest.SRI([]byte("console.log('app')"))+`"`)
	assert.Contains(t, out, `integrity="`+digest.SRI([]byte(inline))+`"`)
	assert.Contains(t, out, `const SOURCES = "`+strings.Join(want, " ")+`"`)
	assert.Equal(t, result.Hash, digest.DocumentHash(out, result.Hash))
}

func TestCrossHostScriptIsRejected(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html": `<html><head><script src="https://cdn.example.com/x.js"></script></head><body></body></html>`,
	})

	in, err := injector.New(injector.Options{Root: root})
	require.NoError(t, err)

	_, err = in.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, injector.ErrUnpinnable)

	var se *injector.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/index.html", se.Page)

	// The document is not rewritten.
	assert.NotContains(t, readFile(t, root, "index.html"), injector.MarkerAttr)
}

func TestMissingScriptIsRejected(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html": `<html><head><script src="gone.js"></script></head><body></body></html>`,
	})

	in, err := injector.New(injector.Options{Root: root})
	require.NoError(t, err)

	_, err = in.Run(context.Background())
	assert.ErrorIs(t, err, injector.ErrUnpinnable)
}

func TestLoaderMissingPlaceholderIsFatal(t *testing.T) {
	root := writeTree(t, map[string]string{"index.html": "<p>x</p>"})

	_, err := injector.New(injector.Options{
		Root:   root,
		Loader: template.New("loader.js", `console.log("INJECT_SOURCES")`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, template.ErrMissingPlaceholder)

	var ie *template.InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, template.Hash, ie.Slot)
}

func TestLoaderSyntaxCheck(t *testing.T) {
	root := writeTree(t, map[string]string{"index.html": "<p>x</p>"})

	in, err := injector.New(injector.Options{
		Root:        root,
		Loader:      template.New("broken.js", `const a = "INJECT_HASH"; const b = "INJECT_SOURCES"; function (`),
		CheckLoader: true,
	})
	require.NoError(t, err)

	_, err = in.Run(context.Background())
	assert.ErrorIs(t, err, injector.ErrLoaderSyntax)
}

func TestWebmanifestIsEmbeddedAsDataURL(t *testing.T) {
	webmanifest := `{
		// app metadata
		"name": "demo",
	}`
	root := writeTree(t, map[string]string{
		"index.html":    "<p>x</p>",
		"manifest.json": webmanifest,
	})

	in, err := injector.New(injector.Options{Root: root})
	require.NoError(t, err)

	_, err = in.Run(context.Background())
	require.NoError(t, err)

	out := readFile(t, root, "index.html")
	re := regexp.MustCompile(`const MANIFEST = "data:application/json;base64,([A-Za-z0-9+/=]+)"`)
	m := re.FindStringSubmatch(out)
	require.NotNil(t, m)

	decoded, err := base64.StdEncoding.DecodeString(m[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"demo"}`, string(decoded))
}

func TestInvalidWebmanifest(t *testing.T) {
	root := writeTree(t, map[string]string{"manifest.json": "{nope"})

	_, err := injector.New(injector.Options{Root: root})
	assert.Error(t, err)
}

func TestRerunSkipsInjectedDocuments(t *testing.T) {
	root := writeTree(t, map[string]string{"index.html": "<p>x</p>"})

	in, err := injector.New(injector.Options{Root: root})
	require.NoError(t, err)

	_, err = in.Run(context.Background())
	require.NoError(t, err)
	first := readFile(t, root, "index.html")

	pages, err := in.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Skipped)
	assert.Equal(t, first, readFile(t, root, "index.html"))
}

func TestHiddenOriginals(t *testing.T) {
	original := `<html><head></head><body><h1>Secret</h1><script>go()</script></body></html>`
	root := writeTree(t, map[string]string{"about/index.html": original})

	in, err := injector.New(injector.Options{Root: root, HiddenOriginals: true})
	require.NoError(t, err)

	pages, err := in.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "/about/_hidden.index.html", pages[0].Hidden)
	assert.Empty(t, pages[0].Sources)

	assert.Equal(t, original, readFile(t, root, "about/_hidden.index.html"))

	shell := readFile(t, root, "about/index.html")
	assert.NotContains(t, shell, "Secret")
	assert.Contains(t, shell, injector.MarkerAttr)
	assert.Equal(t, pages[0].Hash, digest.DocumentHash(shell, pages[0].Hash))

	// A second run leaves both files alone.
	again, err := in.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.True(t, again[0].Skipped)
	assert.Equal(t, original, readFile(t, root, "about/_hidden.index.html"))
}
